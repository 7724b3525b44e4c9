package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coachapp/api/handlers"
	"coachapp/api/middleware"
	"coachapp/api/routes"
	"coachapp/config"
	"coachapp/db"
	"coachapp/messaging"
	"coachapp/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	conf := config.AppConfig
	log.Printf("Starting server on %s (store=%s, feed=%s)", conf.Address(), conf.Messaging.Store, conf.Messaging.Feed)

	if err := db.ConnectDB(); err != nil {
		panic("Failed to connect to the database: " + err.Error())
	}

	if conf.NeedsRedis() {
		if err := services.InitRedis(); err != nil {
			panic("Failed to connect to redis: " + err.Error())
		}
		defer services.CloseRedis()
	}

	feed, err := newFeed(conf)
	if err != nil {
		panic("Failed to start message feed: " + err.Error())
	}
	defer feed.Close()

	store, err := newStore(conf, feed)
	if err != nil {
		panic("Failed to start message store: " + err.Error())
	}

	users := services.NewUserService(db.ORM)
	api := handlers.New(users, store, feed, messaging.Options{
		LoadTimeout:     conf.Messaging.LoadTimeout,
		SendTimeout:     conf.Messaging.SendTimeout,
		MarkReadTimeout: conf.Messaging.MarkReadTimeout,
	}, services.GlobalWSConnManager)

	if conf.Logs.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware(handlers.ServiceName))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.PublicApi(router, api, users)

	srv := &http.Server{
		Addr:    conf.Address(),
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ERROR: server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Shutdown не ждет hijacked соединения, их закрываем сами
	services.GlobalWSConnManager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("ERROR: server shutdown: %v", err)
	}
}

func newFeed(conf *config.ConfigSchema) (services.MessageFeed, error) {
	switch conf.Messaging.Feed {
	case config.FeedRedis:
		return services.NewRedisFeed(services.RedisClient), nil
	case config.FeedRabbitMQ:
		if err := services.InitRabbitMQ(); err != nil {
			return nil, err
		}
		feed, err := services.NewRabbitFeed(nil, conf.RabbitMQ.Exchange)
		if err != nil {
			_ = services.CloseRabbitMQ()
			return nil, err
		}
		return &rabbitFeed{RabbitFeed: feed}, nil
	default:
		return services.NewLocalFeed(), nil
	}
}

// rabbitFeed закрывает соединение с брокером вместе с лентой
type rabbitFeed struct {
	*services.RabbitFeed
}

func (f *rabbitFeed) Close() error {
	err := f.RabbitFeed.Close()
	if cerr := services.CloseRabbitMQ(); err == nil {
		err = cerr
	}
	return err
}

func newStore(conf *config.ConfigSchema, feed services.InsertPublisher) (messaging.MessageStore, error) {
	if conf.Messaging.Store == config.StoreRedis {
		ctx, cancel := context.WithTimeout(context.Background(), conf.Messaging.LoadTimeout)
		defer cancel()
		store, err := services.NewRedisMessageStore(ctx, services.RedisClient, feed)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return services.NewMessageStore(db.ORM, feed), nil
}
