// Package notify pushes operational alerts to the team's Telegram ops
// channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"thrivesend/internal/models"
	"thrivesend/internal/repository"
)

// StatsSource provides the aggregates for the daily report.
type StatsSource interface {
	Stats(ctx context.Context, organizationID string, now time.Time) (*models.OperationStats, error)
}

var _ StatsSource = (*repository.OperationRepository)(nil)

// Notifier sends failure alerts and the daily activity report. A nil
// Notifier is valid and sends nothing, so deployments without a bot
// token just skip the wiring.
type Notifier struct {
	bot           *tele.Bot
	channel       tele.Recipient
	stats         StatsSource
	organizations []string
	logger        *zap.Logger
}

type channelRecipient string

func (c channelRecipient) Recipient() string { return string(c) }

// New connects the bot and resolves the ops channel. Returns nil when
// token or channel is empty.
func New(token, channel string, stats StatsSource, organizations []string, logger *zap.Logger) (*Notifier, error) {
	if token == "" || channel == "" {
		return nil, nil
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: nil,
		OnError: func(err error, _ tele.Context) {
			logger.Error("telebot error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telebot: %w", err)
	}
	return &Notifier{
		bot:           bot,
		channel:       channelRecipient(channel),
		stats:         stats,
		organizations: organizations,
		logger:        logger,
	}, nil
}

// OperationFinished implements engine.FinishListener. Only failures are
// pushed; completed operations stay quiet.
func (n *Notifier) OperationFinished(op *models.Operation, results models.Results) {
	if n == nil || op.Status != models.OperationFailed {
		return
	}
	go n.send(failureMessage(op, results))
}

func failureMessage(op *models.Operation, results models.Results) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ <b>Operation failed</b>\n")
	fmt.Fprintf(&b, "ID: <code>%s</code>\n", op.ID)
	fmt.Fprintf(&b, "Type: %s\n", op.Type)
	fmt.Fprintf(&b, "Org: %s\n", op.OrganizationID)
	fmt.Fprintf(&b, "Succeeded: %d  Failed: %d\n", results.Successful, results.Failed)
	for i, msg := range results.Errors {
		if i == 5 {
			fmt.Fprintf(&b, "... and %d more\n", len(results.Errors)-5)
			break
		}
		fmt.Fprintf(&b, "• %s\n", msg)
	}
	return b.String()
}

// SendDailyReport pushes per-organization activity aggregates.
func (n *Notifier) SendDailyReport(ctx context.Context) {
	if n == nil {
		return
	}
	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Daily report</b> %s\n", now.Format("2006-01-02"))
	for _, org := range n.organizations {
		stats, err := n.stats.Stats(ctx, org, now)
		if err != nil {
			n.logger.Error("Failed to build daily report",
				zap.String("organization_id", org), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "\n<b>%s</b>\n", org)
		fmt.Fprintf(&b, "Operations: %d\n", stats.TotalOperations)
		fmt.Fprintf(&b, "Success rate: %.1f%%\n", stats.SuccessRate)
		fmt.Fprintf(&b, "Items processed: %d\n", stats.TotalItemsProcessed)
		fmt.Fprintf(&b, "Clients touched: %d\n", stats.TotalClientsAffected)
	}
	n.send(b.String())
}

func (n *Notifier) send(text string) {
	if _, err := n.bot.Send(n.channel, text, tele.ModeHTML); err != nil {
		n.logger.Error("Failed to send ops notification", zap.Error(err))
	}
}
