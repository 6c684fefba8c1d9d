package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/spf13/viper"

	"amzym.dev/livetrack/internal/broker"
	"amzym.dev/livetrack/internal/gateway"
	"amzym.dev/livetrack/internal/ingest"
	"amzym.dev/livetrack/internal/orders"
	"amzym.dev/livetrack/internal/registry"
	"amzym.dev/livetrack/internal/track"
	"amzym.dev/livetrack/internal/upstream"
	"amzym.dev/livetrack/internal/webapi"
)

func main() {

	viper.SetDefault("listen_addr", ":3333")
	viper.SetDefault("ingest_addr", ":7000")
	viper.SetDefault("upstream_url", "")
	viper.SetDefault("poll_interval_ms", 2000)
	viper.SetDefault("upstream_timeout_ms", 3000)
	viper.SetDefault("upstream_max_fails", 3)
	viper.SetDefault("db_url", "")
	viper.SetDefault("redis_addr", "")
	viper.SetDefault("nats_url", "")
	viper.SetDefault("nats_subject", "livetrack.locations")
	viper.SetDefault("log_level", "info")
	viper.AutomaticEnv()

	log.DefaultLogger.Level = log.ParseLevel(viper.GetString("log_level"))
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "main").Value()

	reg := registry.New()
	gw := gateway.New(reg)

	var ostore orders.Store
	if viper.GetString("db_url") != "" {
		pool, err := pgxpool.Connect(context.Background(), viper.GetString("db_url"))
		if err != nil {
			panic(err.Error())
		}
		ostore = orders.NewPgStore(pool)
		if viper.GetString("redis_addr") != "" {
			rdb := redis.NewClient(&redis.Options{Addr: viper.GetString("redis_addr")})
			ostore = orders.NewCachedStore(ostore, rdb, 30*time.Second)
		}
	} else {
		logger.Warn().Msg("db_url not set, delivery tracking disabled")
	}

	if viper.GetString("nats_url") != "" {
		br, err := broker.NewBroker(&broker.BrokerConfig{
			URL:     viper.GetString("nats_url"),
			Subject: viper.GetString("nats_subject"),
		})
		if err != nil {
			panic(err.Error())
		}
		defer br.Close()
		gw.OnLocation(br.PublishLocation)
	}

	gps := upstream.NewClient(&upstream.ClientConfig{
		URL:     viper.GetString("upstream_url"),
		Timeout: time.Duration(viper.GetInt("upstream_timeout_ms")) * time.Millisecond,
	})

	if viper.GetString("upstream_url") != "" {
		robot := gw.Attach(gateway.Discard{}, track.RoleRobot)
		poller := upstream.NewPoller(gps,
			time.Duration(viper.GetInt("poll_interval_ms"))*time.Millisecond,
			viper.GetInt("upstream_max_fails"))
		poller.OnDegraded(func(consecutive int) {
			logger.Error().Int("consecutive", consecutive).Msg("upstream gps provider degraded")
		})
		poller.Start(
			robot.Location,
			func(err error, consecutive int) {
				logger.Warn().Err(err).Int("consecutive", consecutive).Msg("upstream poll failed")
			},
		)
		defer poller.Stop()
	} else {
		logger.Warn().Msg("upstream_url not set, robot feed disabled")
	}

	if viper.GetString("ingest_addr") != "" {
		ing := ingest.NewServer(gw, &ingest.ServerConfig{ListenerAddr: viper.GetString("ingest_addr")})
		go ing.Run()
	}

	api := webapi.NewApi(reg, gw, gps, ostore, &webapi.ApiConfig{ListenAddr: viper.GetString("listen_addr")})
	api.Run()
}
