package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/db"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// cli carries what every subcommand needs. openDB is swapped out in tests.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	log    *logger.Logger
	openDB func(c *cli) (*gorm.DB, func(), error)
}

func newCLI(out io.Writer) *cli {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("log_mode", "development")
	v.SetDefault("db_driver", db.DriverPostgres)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "postgres")
	v.SetDefault("postgres_name", "neuroscout")
	v.SetDefault("sqlite_path", "neuroscout.db")
	return &cli{v: v, out: out, log: logger.NewNop(), openDB: openConfiguredDB}
}

func (c *cli) dbConfig() db.Config {
	return db.Config{
		Driver:     strings.ToLower(c.v.GetString("db_driver")),
		Host:       c.v.GetString("postgres_host"),
		Port:       c.v.GetString("postgres_port"),
		User:       c.v.GetString("postgres_user"),
		Password:   c.v.GetString("postgres_password"),
		Name:       c.v.GetString("postgres_name"),
		SQLitePath: c.v.GetString("sqlite_path"),
		MySQLDSN:   c.v.GetString("mysql_dsn"),
	}
}

func openConfiguredDB(c *cli) (*gorm.DB, func(), error) {
	svc, err := db.Open(c.dbConfig(), c.log)
	if err != nil {
		return nil, nil, err
	}
	return svc.DB(), func() { _ = svc.Close() }, nil
}

func rootCommand(c *cli) *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "bundlectl",
		Short:         "Offline tools for neuroscout analysis bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				c.v.SetConfigFile(configFile)
				if err := c.v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", configFile, err)
				}
			}
			if c.v.GetBool("verbose") {
				log, err := logger.New(c.v.GetString("log_mode"))
				if err != nil {
					return err
				}
				c.log = log
			}
			return nil
		},
	}
	root.SetOut(c.out)
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML or JSON file with database settings")
	root.PersistentFlags().String("db-driver", "", "postgres, sqlite or mysql (env DB_DRIVER)")
	root.PersistentFlags().String("sqlite-path", "", "SQLite database file (env SQLITE_PATH)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")
	for flag, key := range map[string]string{
		"db-driver":   "db_driver",
		"sqlite-path": "sqlite_path",
		"verbose":     "verbose",
	} {
		_ = c.v.BindPFlag(key, root.PersistentFlags().Lookup(flag))
	}

	root.AddCommand(
		buildCommand(c),
		compileCommand(c),
		eventsCommand(c),
		schemaCommand(),
		migrateCommand(c),
	)
	return root
}
