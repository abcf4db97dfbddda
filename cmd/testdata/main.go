package main

import (
	"context"

	"github.com/spf13/viper"

	"github.com/d4l-data4life/go-chat-host/internal/testutils"
	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/models"
	"github.com/d4l-data4life/go-chat-host/pkg/store"
	"github.com/d4l-data4life/go-svc/pkg/db"
	"github.com/d4l-data4life/go-svc/pkg/logging"
	"github.com/d4l-data4life/go-svc/pkg/standard"
)

func main() {
	// Initialize the environment and logger
	config.SetupEnv()
	config.SetupLogger()
	dbOpts := db.NewConnection(
		db.WithDebug(viper.GetBool("DEBUG")),
		db.WithHost(viper.GetString("DB_HOST")),
		db.WithPort(viper.GetString("DB_PORT")),
		db.WithDatabaseSchema(viper.GetString("DB_SCHEMA")),
		db.WithDatabaseName(viper.GetString("DB_NAME")),
		db.WithUser(viper.GetString("DB_USER")),
		db.WithPassword(viper.GetString("DB_PASS")),
		db.WithSSLMode(viper.GetString("DB_SSL_MODE")),
		db.WithSSLRootCertPath(viper.GetString("DB_SSL_ROOT_CERT_PATH")),
		db.WithMigrationFunc(models.MigrationFunc),
		db.WithMigrationVersion(config.MigrationVersion),
	)
	standard.Main(addTestData, config.Name+"-testdata", standard.WithPostgres(dbOpts))
}

func addTestData(ctx context.Context, _ string) <-chan struct{} {
	// Insert test data
	user, err := testutils.AddTestDataToDB(ctx, store.New(db.Get()))
	if err != nil {
		logging.LogErrorf(err, "Error inserting test data")
	} else {
		logging.LogInfof("Demo user %s can log in as demo / demo-password", user.ID)
	}

	dieEarly := make(chan struct{})
	close(dieEarly)
	return dieEarly
}
