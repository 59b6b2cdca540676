package muserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/stopper"
	"github.com/gorilla/mux"
	"github.com/muisto-app/muisto/pkg/logtee"
	"github.com/muisto-app/muisto/pkg/muconnection"
	"github.com/muisto-app/muisto/pkg/mudb"
	"github.com/muisto-app/muisto/pkg/muprovider"
	"github.com/muisto-app/muisto/pkg/murecord"
	"github.com/muisto-app/muisto/pkg/musync"
	"github.com/muisto-app/muisto/pkg/scheduler"
	"go.etcd.io/bbolt"
)

const (
	ConfigFilename = "muisto-config.json"

	DefaultListenAddr = "localhost:8066"
)

type ServerConfigFile struct {
	DbLocation         string            `json:"db_location"`
	ListenAddr         string            `json:"listen_addr"` // default localhost:8066
	UserID             string            `json:"user_id"`     // local-first: one user per deployment
	OAuthRedirectURL   string            `json:"oauth_redirect_url"`
	GoogleClientID     string            `json:"google_client_id"`
	GoogleClientSecret string            `json:"google_client_secret"`
	RecordDirs         map[string]string `json:"record_dirs"` // record type => local directory
}

func readServerConfigFile() (*ServerConfigFile, error) {
	scf := &ServerConfigFile{}
	if err := jsonfile.Read(ConfigFilename, scf, true); err != nil {
		return nil, err
	}

	if scf.ListenAddr == "" {
		scf.ListenAddr = DefaultListenAddr
	}
	if scf.UserID == "" {
		scf.UserID = "local"
	}
	if scf.OAuthRedirectURL == "" {
		scf.OAuthRedirectURL = "http://" + scf.ListenAddr + "/oauth/callback"
	}

	return scf, nil
}

func runServer(logger *log.Logger, logTail *logtee.StringTail, stop *stopper.Stopper) error {
	defer stop.Done()

	logl := logex.Levels(logger)

	scf, err := readServerConfigFile()
	if err != nil {
		return err
	}

	db, err := mudb.Open(scf.DbLocation)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := validateSchema(db); err != nil {
		if err != mudb.ErrNeedsBootstrap {
			return err
		}

		if err := mudb.Bootstrap(db, logex.Prefix("bootstrap", logger)); err != nil {
			return err
		}
	}

	connections := muconnection.NewStore(db, muprovider.OAuthAppConfig{
		GoogleClientID:     scf.GoogleClientID,
		GoogleClientSecret: scf.GoogleClientSecret,
	}, logex.Prefix("connections", logger))

	adapters := musync.NewAdapterRegistry()
	for recordType, dir := range scf.RecordDirs {
		adapters.Register(murecord.NewDirAdapter(recordType, dir, "application/json"))
	}

	engine := musync.NewEngine(db, connections, adapters, logex.Prefix("engine", logger))

	workers := stopper.NewManager()

	if _, err := setupScheduledJobs(engine, connections, scf.UserID, db, logger, workers.Stopper()); err != nil {
		return err
	}

	metrics := newServerMetrics(engine.MetricsRegistry())

	router := mux.NewRouter()

	defineRestApi(
		router,
		scf,
		db,
		connections,
		engine,
		logTail,
		logex.Prefix("restapi", logger))

	router.Handle("/metrics", engine.MetricsHTTPHandler())

	srv := http.Server{
		Addr:    scf.ListenAddr,
		Handler: metrics.WrapHTTPServer(router),
	}

	go func(stop *stopper.Stopper) {
		defer stop.Done()

		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logl.Error.Fatalf("ListenAndServe: %v", err)
		}
	}(workers.Stopper())

	logl.Info.Printf("listening on %s", scf.ListenAddr)

	<-stop.Signal

	if err := srv.Shutdown(context.TODO()); err != nil {
		logl.Error.Fatalf("Shutdown: %v", err)
	}

	workers.StopAllWorkersAndWait()

	return nil
}

func validateSchema(db *bbolt.DB) error {
	tx, err := db.Begin(false)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	return mudb.ValidateSchemaVersion(tx)
}

// drain and token sweep run on schedules stored in config rows, so they're
// tweakable without a rebuild
func setupScheduledJobs(
	engine *musync.Engine,
	connections *muconnection.Store,
	userID string,
	db *bbolt.DB,
	logger *log.Logger,
	stop *stopper.Stopper,
) (*scheduler.Controller, error) {
	tx, err := db.Begin(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	drainSchedule, err := mudb.CfgDrainSchedule.GetRequired(tx)
	if err != nil {
		return nil, err
	}

	sweepSchedule, err := mudb.CfgTokenSweepSchedule.GetRequired(tx)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	drainJob, err := scheduler.NewJob(scheduler.JobSpec{
		ID:          "drain",
		Description: "queue drain",
		Schedule:    drainSchedule,
	}, func(ctx context.Context, logger *log.Logger) error {
		return engine.Drain(ctx)
	}, now)
	if err != nil {
		return nil, err
	}

	sweepJob, err := scheduler.NewJob(scheduler.JobSpec{
		ID:          "tokensweep",
		Description: "token refresh sweep",
		Schedule:    sweepSchedule,
	}, func(ctx context.Context, logger *log.Logger) error {
		return connections.RefreshExpiringTokens(ctx, userID)
	}, now)
	if err != nil {
		return nil, err
	}

	controller := scheduler.New(
		[]*scheduler.Job{drainJob, sweepJob},
		logex.Prefix("scheduler", logger),
		asSchedulerStarter(stop, logger))

	// scheduler publishes job state after each run; we only log it (job state isn't
	// authoritative data worth a bucket of its own here)
	go func() {
		for snapshot := range controller.SnapshotReady {
			for _, job := range snapshot {
				if job.LastRun != nil && job.LastRun.Error != "" {
					logex.Levels(logger).Error.Printf("job %s: %s", job.ID, job.LastRun.Error)
				}
			}
		}
	}()

	return controller, nil
}

func asSchedulerStarter(stop *stopper.Stopper, logger *log.Logger) func(func(context.Context) error) {
	return func(run func(context.Context) error) {
		go func() {
			defer stop.Done()

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-stop.Signal
				cancel()
			}()

			if err := run(ctx); err != nil {
				logex.Levels(logger).Error.Printf("scheduler: %v", err)
			}
		}()
	}
}
