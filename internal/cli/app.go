package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"calrecon/internal/classify"
	"calrecon/internal/config"
	"calrecon/internal/engine"
	"calrecon/internal/ics"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
	"calrecon/internal/mq"
	"calrecon/internal/notify"
	"calrecon/internal/scheduler"
	"calrecon/internal/store/memory"
	"calrecon/internal/store/postgres"
)

// app holds the wired collaborators of one process.
type app struct {
	cfg    *config.Config
	engine *engine.Engine
	locker scheduler.Locker

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp loads the configuration and wires stores, calendar and sender.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	metrics.Register()

	a := &app{cfg: cfg}
	deps := engine.Deps{Recipients: notify.StaticRecipients(cfg.AdminRecipients)}
	var colors ics.ColorStore

	if memoryMode || cfg.DatabaseURL == "" {
		appLog.Warn("using in-memory stores; links and ledger are lost on exit")
		deps.Reservations = memory.NewReservations()
		deps.Links = memory.NewLinks()
		deps.Ledger = memory.NewLedger()
		a.locker = memory.NewLocker()
		colors = memory.NewColors()
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		deps.Reservations = postgres.NewReservations(pool)
		deps.Links = postgres.NewLinks(pool)
		deps.Ledger = postgres.NewLedger(pool)
		a.locker = postgres.NewLocker(pool)
		colors = postgres.NewColors(pool)
	}

	deps.Calendar = newCalendar(cfg, colors)

	if cfg.RabbitURL != "" {
		pub, err := mq.NewPublisher(cfg.RabbitURL, cfg.MailExchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		deps.Sender = mq.NewMailSender(pub)
	} else {
		deps.Sender = notify.LogSender{}
	}

	eng, err := engine.New(deps, engine.Options{
		Location: cfg.Location(),
		Rules: classify.Rules{
			TitlePrefix:  cfg.BookingSignature.Prefix,
			TitleEmoji:   cfg.BookingSignature.Emoji,
			PricePattern: cfg.BookingSignature.PricePattern,
			InfoColorTag: cfg.InfoColorTag,
		},
		PaddingDays:      cfg.PaddingDays,
		MaxIterationDays: cfg.MaxIterationDays,
		LookbackDays:     cfg.LookbackDays,
		HorizonDays:      cfg.HorizonDays,
		DetectTimeout:    cfg.DetectTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng

	appLog.Info("effective config",
		"timezone", cfg.Timezone,
		"database", cfg.DatabaseURL != "" && !memoryMode,
		"broker", cfg.RabbitURL != "",
		"ics_count", len(cfg.ICS),
		"recipients", len(cfg.AdminRecipients),
		"horizon_days", cfg.HorizonDays,
	)
	return a, nil
}

// newCalendar builds the ICS-backed provider, or an empty in-memory calendar
// when no feed is configured.
func newCalendar(cfg *config.Config, colors ics.ColorStore) engine.CalendarProvider {
	sources := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL})
	}
	if len(sources) == 0 {
		appLog.Warn("no ICS sources configured; shared calendar is empty")
		return memory.NewCalendar()
	}

	fetcher := ics.NewFetcher(cfg.ICSCacheDir, &http.Client{Timeout: 20 * time.Second})
	return ics.NewProvider(fetcher, ics.Options{
		Sources:      sources,
		Location:     cfg.Location(),
		MaxInstances: 5000,
		Colors:       colors,
	})
}
