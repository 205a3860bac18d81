package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/healdb/heal/internal/catalog"
	"github.com/healdb/heal/internal/config"
	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/connector/mssql"
	"github.com/healdb/heal/internal/connector/mysql"
	"github.com/healdb/heal/internal/connector/postgres"
	"github.com/healdb/heal/internal/connector/sqlite"
	"github.com/healdb/heal/internal/detector"
	"github.com/healdb/heal/internal/executor"
	"github.com/healdb/heal/internal/history"
	"github.com/healdb/heal/internal/monitor"
	"github.com/healdb/heal/internal/planner"
	"github.com/healdb/heal/internal/rules"
	"github.com/healdb/heal/internal/scanner"
)

// engine bundles the wired pipeline components for the CLI commands.
type engine struct {
	cfg          *config.Config
	conn         connector.Connector
	ledger       *history.Ledger
	rules        *rules.RuleSet
	introspector *catalog.Introspector
	scanner      *scanner.Scanner
	detector     *detector.Detector
	monitor      *monitor.Monitor
	logger       *slog.Logger
}

func (e *engine) close() {
	if e.ledger != nil {
		e.ledger.Close() //nolint:errcheck
	}
	if e.conn != nil {
		e.conn.Close() //nolint:errcheck
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("sqlserver", func() connector.Connector { return mssql.New() })
	return registry
}

// buildEngine wires the full pipeline from configuration. Callers own the
// returned engine and must close it.
func buildEngine(logger *slog.Logger) (*engine, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	conn, err := newRegistry().Open(connector.Config{
		Driver:          cfg.Target.Driver,
		DSN:             cfg.Target.DSN,
		SchemaName:      cfg.Target.Schema,
		MaxOpenConns:    cfg.Target.MaxOpenConns,
		MaxIdleConns:    cfg.Target.MaxIdleConns,
		ConnMaxLifetime: cfg.Target.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Target.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	ledger, err := history.NewLedger(cfg.DataDir)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	rs := rules.Empty()
	if cfg.Rules.Path != "" {
		rs, err = rules.Load(cfg.Rules.Path)
		if err != nil {
			ledger.Close() //nolint:errcheck
			conn.Close()   //nolint:errcheck
			return nil, fmt.Errorf("load rules: %w", err)
		}
	}

	introspector := catalog.NewIntrospector(conn, logger)
	scn := scanner.New(logger)
	det := detector.New(detector.Config{CriticalTables: cfg.Detection.CriticalTables})
	pln := planner.New(conn, ledger, rs, logger, planner.Config{
		Cooldown:        cfg.Fixes.Cooldown,
		AutoFixTables:   cfg.Fixes.AutoFixTables,
		BackupRetention: cfg.Fixes.BackupRetention,
	})
	exe := executor.New(conn, ledger, logger,
		executor.WithStatementTimeout(cfg.Fixes.StatementTimeout))

	mon := monitor.New(introspector, scn, det, pln, exe, ledger, rs, logger, monitor.Config{
		Interval:    cfg.Monitor.Interval,
		SourceRoots: cfg.Scanner.SourceRoots,
	})

	return &engine{
		cfg:          cfg,
		conn:         conn,
		ledger:       ledger,
		rules:        rs,
		introspector: introspector,
		scanner:      scn,
		detector:     det,
		monitor:      mon,
		logger:       logger,
	}, nil
}
