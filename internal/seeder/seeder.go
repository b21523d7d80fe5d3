// Package seeder fills a database with demo funnels and realistic traffic.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"funneltrack/internal/annotations"
	"funneltrack/internal/consent"
	"funneltrack/internal/funnels"
	"funneltrack/internal/pkg/useragent"
	"funneltrack/internal/tracking"
)

// DefaultSessions is the number of visitor sessions generated by Run.
const DefaultSessions = 500

// seedDays is how far back generated traffic goes.
const seedDays = 30

// Seeder generates demo data through the same recorder the tracking API uses.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	Sessions  int
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, sessions int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions <= 0 {
		sessions = DefaultSessions
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		Sessions:  sessions,
	}
}

type demoFunnel struct {
	name        string
	description string
	steps       []funnels.StepParams
	// continueRate is the chance a visitor moves on to the next step.
	continueRate float64
}

var demoFunnels = []demoFunnel{
	{
		name:        "Checkout",
		description: "Product page to completed order",
		steps: []funnels.StepParams{
			{StepType: "page", StepName: "Product", PageID: 101},
			{StepType: "page", StepName: "Cart", PageID: 102},
			{StepType: "form", StepName: "Payment", FormID: 201},
		},
		continueRate: 0.55,
	},
	{
		name:        "Newsletter",
		description: "Blog readers subscribing",
		steps: []funnels.StepParams{
			{StepType: "page", StepName: "Blog post", PageID: 301},
			{StepType: "form", StepName: "Subscribe", FormID: 302},
		},
		continueRate: 0.3,
	},
}

// Run creates the demo funnels (reusing them when present) and records
// Sessions visitor journeys spread over the last thirty days.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("sessions", s.Sessions))

	db := s.DBManager.GetConnection()

	seeded := make([]*funnels.Funnel, 0, len(demoFunnels))
	for _, demo := range demoFunnels {
		funnel, err := s.seedFunnel(db, demo)
		if err != nil {
			return fmt.Errorf("failed to seed funnel %s: %w", demo.name, err)
		}
		seeded = append(seeded, funnel)
	}

	recorded, err := s.generateTraffic(ctx, db, seeded)
	if err != nil {
		return fmt.Errorf("failed to generate traffic: %w", err)
	}

	if err := s.seedAnnotations(db, seeded[0]); err != nil {
		return fmt.Errorf("failed to seed annotations: %w", err)
	}

	s.Logger.Info("Seeding completed successfully",
		slog.Int("events", recorded),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedFunnel(db *gorm.DB, demo demoFunnel) (*funnels.Funnel, error) {
	var existing funnels.Funnel
	err := db.Where("name = ?", demo.name).First(&existing).Error
	if err == nil {
		s.Logger.Info("Reusing existing funnel", slog.String("name", demo.name))
		return funnels.GetFunnel(db, existing.ID, true)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	steps, err := funnels.StepInputsFromParams(demo.steps)
	if err != nil {
		return nil, err
	}
	return funnels.CreateFunnel(db, s.Logger, funnels.CreateFunnelInput{
		Name:        demo.name,
		Description: demo.description,
		Steps:       steps,
	})
}

func (s *Seeder) generateTraffic(ctx context.Context, db *gorm.DB, seeded []*funnels.Funnel) (int, error) {
	var at time.Time
	recorder := tracking.NewRecorder(db, s.Logger,
		tracking.WithBotDetector(useragent.Default()),
		tracking.WithClock(func() time.Time { return at }),
	)
	policy := tracking.Policy{
		TrackingEnabled: true,
		Gate:            consent.Gate{Enabled: false},
		StoreIP:         true,
	}

	ips := generateIPPool(s.Sessions/3 + 1)
	userAgents := getUserAgents()
	now := time.Now().UTC()
	recorded := 0

	for i := 0; i < s.Sessions; i++ {
		if err := ctx.Err(); err != nil {
			return recorded, err
		}

		index := rand.IntN(len(seeded))
		funnel, demo := seeded[index], demoFunnels[index]
		at = now.Add(-time.Duration(rand.Int64N(int64(seedDays * 24 * time.Hour))))

		utm, err := tracking.UTMFromURL(randomLandingURL())
		if err != nil {
			return recorded, err
		}
		client := tracking.ClientContext{}
		ip := ips[rand.IntN(len(ips))]
		ua := userAgents[rand.IntN(len(userAgents))]

		for position, step := range funnel.Steps {
			if position > 0 && rand.Float64() > demo.continueRate {
				break
			}
			at = at.Add(time.Duration(rand.IntN(300)+20) * time.Second)
			if at.After(now) {
				at = now
			}

			req := tracking.TrackRequest{
				UTM:       utm,
				Client:    client,
				IPAddress: ip,
				UserAgent: ua,
			}
			switch step.StepType {
			case funnels.StepTypePage:
				req.EventType = tracking.EventTypePageView
				req.PageID = *step.PageID
			default:
				req.EventType = tracking.EventTypeFormSubmission
				req.FormID = *step.FormID
			}

			result, err := recorder.Record(ctx, policy, req)
			if err != nil {
				return recorded, err
			}
			if result.Outcome == tracking.OutcomeIgnored {
				break
			}
			client.RequestSessionID = result.Session.ID
			recorded += len(result.EventIDs)
		}

		if rand.IntN(4) == 0 {
			if err := s.seedConsent(db, client.RequestSessionID, ip, ua); err != nil {
				return recorded, err
			}
		}
	}
	return recorded, nil
}

func (s *Seeder) seedConsent(db *gorm.DB, sessionID, ip, ua string) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	actions := []consent.Action{consent.ActionAccept, consent.ActionDecline, consent.ActionCustomize}
	decision, err := consent.Decide(actions[rand.IntN(len(actions))], map[string]bool{
		"analytics": rand.IntN(2) == 0,
		"marketing": rand.IntN(2) == 0,
	})
	if err != nil {
		return err
	}
	_, err = consent.SetConsent(db, s.Logger, consent.SetConsentInput{
		Status:     decision.Status,
		Categories: decision.Categories,
		SessionID:  sessionID,
		IPAddress:  ip,
		UserAgent:  ua,
	})
	return err
}

func (s *Seeder) seedAnnotations(db *gorm.DB, funnel *funnels.Funnel) error {
	existing, err := annotations.GetAnnotationsForFunnel(db, funnel.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, annotation := range []annotations.Annotation{
		{Title: "Spring sale", AnnotationType: annotations.AnnotationCampaign, AnnotationDate: now.AddDate(0, 0, -20)},
		{Title: "New payment form", AnnotationType: annotations.AnnotationDeployment, AnnotationDate: now.AddDate(0, 0, -7)},
	} {
		annotation := annotation
		annotation.FunnelID = funnel.ID
		if err := annotations.CreateAnnotation(db, &annotation); err != nil {
			return err
		}
	}
	return nil
}

// generateIPPool creates a pool of unique IPv4 addresses
func generateIPPool(count int) []string {
	ipPool := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(223)+1, rand.IntN(256), rand.IntN(256), rand.IntN(254)+1)
		if !ipPool[ip] {
			ipPool[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns a list of common user agent strings. The last two
// are bots and get filtered by the recorder.
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"curl/8.4.0",
	}
}

// randomLandingURL returns a landing page URL, tagged with campaign
// parameters about half of the time.
func randomLandingURL() string {
	base := "https://shop.example.com/landing"
	if rand.IntN(2) == 0 {
		return base
	}

	campaigns := []tracking.UTMParams{
		{Source: "google", Medium: "cpc", Campaign: "spring_sale", Term: "running shoes"},
		{Source: "newsletter", Medium: "email", Campaign: "weekly_digest", Content: "header_link"},
		{Source: "facebook", Medium: "social", Campaign: "spring_sale", Content: "carousel"},
		{Source: "twitter", Medium: "social", Campaign: "launch"},
		{Source: "linkedin", Medium: "social"},
	}
	tagged, err := tracking.BuildUTMURL(base, campaigns[rand.IntN(len(campaigns))])
	if err != nil {
		return base
	}
	return tagged
}
