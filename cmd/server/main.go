package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/auth"
	"github.com/clickarena/backend/chain"
	"github.com/clickarena/backend/gate"
	"github.com/clickarena/backend/hub"
	"github.com/clickarena/backend/ledger"
	"github.com/clickarena/backend/persistent"
	"github.com/clickarena/backend/pgdb"
	"github.com/clickarena/backend/rank"
	"github.com/clickarena/backend/transport/rest"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
	"github.com/uptrace/bun"
	_ "github.com/uptrace/bun/driver/pgdriver"
)

func listenAndServe(
	ctx context.Context,
	bdb *buntdb.DB,
	db *bun.DB,
	verifier arena.IdentityVerifier,
	debug bool,
) (func() error, error) {
	clock := arena.SystemClock{}
	gameStore := &persistent.GameStore{Buntdb: bdb, Clock: clock}
	userStore := &persistent.UserStore{DB: db}

	chainManager := &chain.Manager{
		Store:           gameStore,
		Clock:           clock,
		SessionDuration: chain.DefaultSessionDuration,
	}
	scoreLedger := &ledger.Ledger{Store: gameStore, Chain: chainManager, Clock: clock}
	rankIndex := rank.New()
	broadcastHub := hub.New()
	requestGate := &gate.Gate{
		Chain:   chainManager,
		Ledger:  scoreLedger,
		Rank:    rankIndex,
		Hub:     broadcastHub,
		Store:   gameStore,
		Users:   userStore,
		Limiter: gate.NewLimiter(clock, gate.DefaultRules()),
	}
	if err := requestGate.Warm(ctx); err != nil {
		return nil, err
	}

	sessionController := rest.SessionController{Gate: requestGate}
	actionController := rest.ActionController{Gate: requestGate}
	leaderboardController := rest.LeaderboardController{Gate: requestGate}
	liveController := rest.LiveController{Hub: broadcastHub}

	server := fiber.New()
	server.Use(rest.LogHandler())

	api := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: rest.ErrorHandler,
	})

	allowOrigins := "https://clickarena.gg"
	if debug {
		allowOrigins += ", http://localhost:3000"
	}
	api.Use(cors.New(cors.Config{AllowOrigins: allowOrigins}))

	requestAuthorizer := rest.RequestAuthorizer(verifier)
	api.Get("/status", monitor.New())
	sessionController.InstallTo(requestAuthorizer, api)
	actionController.InstallTo(requestAuthorizer, api)
	leaderboardController.InstallTo(requestAuthorizer, api)
	liveController.InstallTo(requestAuthorizer, api)

	server.Mount("/api/", api)
	server.Use(rest.NotFoundHandler)

	var addr string
	if debug {
		addr = "127.0.0.1:2137"
	} else {
		addr = ":2137"
	}
	go func() {
		if err := server.Listen(addr); err != nil {
			logrus.WithError(err).Fatalln("Listen failed.")
		}
	}()

	return server.Shutdown, nil
}

func setupLogger(verbose bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.Stamp,
		FullTimestamp:   true,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func verifierFromEnv(debug bool) arena.IdentityVerifier {
	introspectUrl := os.Getenv("AUTH_INTROSPECT_URL")
	if introspectUrl != "" {
		return auth.RestIntrospectVerifier(introspectUrl)
	}
	if debug {
		logrus.Warningln("AUTH_INTROSPECT_URL not set, using dev verifier.")
		return auth.DevVerifier()
	}
	logrus.Fatalln("AUTH_INTROSPECT_URL not set!")
	return nil
}

func awaitInterruption() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
}

func main() {
	flag.Parse()
	debug := os.Getenv("DEBUG") == "true"
	setupLogger(debug)
	logrus.Infoln("Starting backend.")

	pgDsn := os.Getenv("POSTGRES_DSN")
	if pgDsn == "" {
		logrus.Fatalln("Environment variable POSTGRES_DSN is not set!")
	}

	buntPath := os.Getenv("BUNTDB_PATH")
	if buntPath == "" {
		buntPath = "game.db"
	}
	bdb, err := buntdb.Open(buntPath)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not open buntdb.")
	}
	defer bdb.Close()

	logrus.Infoln("Opening database.")
	pg := pgdb.Open(context.Background(), pgDsn)
	defer pg.Close()

	verifier := verifierFromEnv(debug)

	logrus.Infoln("Starting listening... To shut down use ^C")
	shutdown, err := listenAndServe(context.Background(), bdb, pg, verifier, debug)
	if err != nil {
		logrus.WithError(err).Fatalln("Could not start server.")
	}

	awaitInterruption()

	logrus.Infoln("Shutting down...")
	if err := shutdown(); err != nil {
		logrus.WithError(err).Warningln("Fiber shutdown failed.")
	}
	logrus.Exit(0)
}
