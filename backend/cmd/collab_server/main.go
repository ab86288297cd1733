package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/auth"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/cache"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/collab"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/httpapi/handlers"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/httpapi/middleware"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/store"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ws"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"Auth"`
}

func initConfig() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	// Works from the repo root or from backend/.
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	gdb, err := gorm.Open(gormmysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to open gorm connection: %v", err)
	}

	// SyncProducer requires Return.Successes.
	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	contentStore := store.NewDocumentStore(db)
	versionStore, err := store.NewGormVersionStore(gdb)
	if err != nil {
		log.Fatalf("Failed to migrate version store: %v", err)
	}
	branchManager := store.NewBranchManager(versionStore, contentStore)
	presenceCache := cache.NewRedisPresence(rdb)
	verifier := auth.NewTokenVerifier(cfg.Auth.Secret)

	kafkaSem := collab.NewSemaphoreControl()
	wsSem := collab.NewSemaphoreControl()
	dispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		kafkaSem,
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	persister := collab.NewPersister(contentStore, versionStore, store.DefaultBranch)
	defer persister.Stop()

	svc := collab.NewSessionService(contentStore, persister, dispatcher)
	svc.StartJanitor(time.Minute, 30*time.Minute)
	defer svc.StopJanitor()

	hub := ws.NewHub()
	coord := &ws.Coordinator{
		Hub:      hub,
		Service:  svc,
		Presence: presenceCache,
		Branches: branchManager,
		Access:   auth.AllowAll{},
		Verifier: verifier,
		Sem:      wsSem,
	}
	history := &handlers.History{Versions: versionStore, Branches: branchManager, Live: svc}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	api := r.Group("/collab")
	api.Use(middleware.AuthMiddleware(verifier))
	api.GET("/ws", coord.Handler)
	history.Register(api)

	_ = r.Run(fmt.Sprintf(":%d", cfg.Running.Port))
}
