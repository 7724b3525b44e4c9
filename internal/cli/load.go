package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"coachapp/internal/client"
	"coachapp/models"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
)

type Stats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalDuration   int64
	MessagesSent    int64
}

func (s *Stats) record(duration time.Duration, err error) {
	atomic.AddInt64(&s.TotalRequests, 1)
	atomic.AddInt64(&s.TotalDuration, duration.Milliseconds())
	if err != nil {
		atomic.AddInt64(&s.FailedRequests, 1)
	} else {
		atomic.AddInt64(&s.SuccessRequests, 1)
	}
}

func (s *Stats) snapshot() (total, success, failed, avgLatency int64, successRate float64) {
	total = atomic.LoadInt64(&s.TotalRequests)
	success = atomic.LoadInt64(&s.SuccessRequests)
	failed = atomic.LoadInt64(&s.FailedRequests)
	totalDuration := atomic.LoadInt64(&s.TotalDuration)
	if total > 0 {
		avgLatency = totalDuration / total
		successRate = float64(success) / float64(total) * 100
	}
	return
}

type LoadConfig struct {
	URL            string
	Workers        int
	Duration       time.Duration
	MessageCount   int
	Pairs          int
	RequestsPerSec int
}

// pair - тренер и клиент, между которыми идет нагрузочная переписка
type pair struct {
	coach  *client.Client
	client *client.Client
	ids    [2]string
}

// LoadCmd returns the load command
func LoadCmd() *cobra.Command {
	cfg := LoadConfig{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Generate conversation traffic against the server",
		Long: `Register synthetic coach/client pairs and exercise the messaging API
from concurrent workers: send, inbox, thread and mark-read.

Statistics are printed every 5 seconds and once more at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			session, err := loadSession()
			if err != nil {
				return err
			}
			cfg.URL = resolveURL(session)
			log.Printf("Starting load with config: %+v", cfg)

			stats, err := RunLoad(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			printFinalStats(os.Stdout, stats)
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.Workers, "workers", 10, "Number of concurrent workers")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", time.Minute, "Test duration (0 for infinite)")
	cmd.Flags().IntVar(&cfg.MessageCount, "messages", 0, "Total requests to make (0 for infinite)")
	cmd.Flags().IntVar(&cfg.Pairs, "pairs", 5, "Number of synthetic coach/client pairs")
	cmd.Flags().IntVar(&cfg.RequestsPerSec, "rps", 100, "Requests per second target")

	return cmd
}

// RunLoad создает пары пользователей и гоняет воркеры до истечения Duration,
// набора MessageCount запросов или отмены ctx
func RunLoad(ctx context.Context, cfg LoadConfig, out io.Writer) (*Stats, error) {
	if cfg.Workers <= 0 || cfg.Pairs <= 0 || cfg.RequestsPerSec <= 0 {
		return nil, fmt.Errorf("workers, pairs and rps must be positive")
	}

	pairs, err := setupPairs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	requestsPerWorker := cfg.RequestsPerSec / cfg.Workers
	if requestsPerWorker == 0 {
		requestsPerWorker = 1
	}

	stats := &Stats{}
	go printStats(ctx, out, stats)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go worker(ctx, i, cfg, requestsPerWorker, pairs, stats, &wg)
	}
	wg.Wait()
	return stats, nil
}

func setupPairs(ctx context.Context, cfg LoadConfig) ([]pair, error) {
	pairs := make([]pair, 0, cfg.Pairs)
	for i := 0; i < cfg.Pairs; i++ {
		coach, coachID, err := syntheticUser(ctx, cfg.URL, models.RoleCoach)
		if err != nil {
			return nil, err
		}
		trainee, traineeID, err := syntheticUser(ctx, cfg.URL, models.RoleClient)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{coach: coach, client: trainee, ids: [2]string{coachID, traineeID}})
	}
	return pairs, nil
}

func syntheticUser(ctx context.Context, url string, role models.Role) (*client.Client, string, error) {
	nickname := fmt.Sprintf("%s_%s", gofakeit.Username(), gofakeit.Numerify("######"))
	password := gofakeit.Password(true, false, true, true, false, 10)
	displayName := gofakeit.FirstName() + " " + gofakeit.LastName()

	c := client.New(url, "")
	if _, err := c.Register(ctx, nickname, password, displayName, role); err != nil {
		return nil, "", err
	}
	session, err := c.Login(ctx, nickname, password)
	if err != nil {
		return nil, "", err
	}
	return c, session.UserID, nil
}

var loadOperations = []string{"send_message", "send_message", "get_conversations", "get_messages", "mark_as_read"}

func worker(ctx context.Context, id int, cfg LoadConfig, requestsPerSec int, pairs []pair, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(requestsPerSec))
	defer ticker.Stop()

	messagesSent := 0

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d stopping, sent %d messages", id, messagesSent)
			return
		case <-ticker.C:
			if cfg.MessageCount > 0 && atomic.LoadInt64(&stats.TotalRequests) >= int64(cfg.MessageCount) {
				return
			}

			p := pairs[gofakeit.Number(0, len(pairs)-1)]
			self, partnerID := p.coach, p.ids[1]
			if gofakeit.Bool() {
				self, partnerID = p.client, p.ids[0]
			}

			start := time.Now()
			var err error
			switch loadOperations[gofakeit.Number(0, len(loadOperations)-1)] {
			case "send_message":
				_, err = self.Send(ctx, partnerID, client.SendRequest{Content: gofakeit.Sentence(gofakeit.Number(3, 12))})
				if err == nil {
					messagesSent++
					atomic.AddInt64(&stats.MessagesSent, 1)
				}
			case "get_conversations":
				_, err = self.Conversations(ctx)
			case "get_messages":
				_, err = self.Messages(ctx, partnerID)
			case "mark_as_read":
				_, err = self.MarkRead(ctx, partnerID)
			}
			if ctx.Err() != nil {
				return
			}
			stats.record(time.Since(start), err)
		}
	}
}

func printStats(ctx context.Context, out io.Writer, stats *Stats) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, success, failed, avgLatency, successRate := stats.snapshot()
			fmt.Fprintf(out, "[STATS] Total: %d | Success: %d | Failed: %d | Success Rate: %.2f%% | Avg Latency: %dms\n",
				total, success, failed, successRate, avgLatency)
		}
	}
}

func printFinalStats(out io.Writer, stats *Stats) {
	total, success, failed, avgLatency, successRate := stats.snapshot()

	fmt.Fprintln(out, "\n========== FINAL STATISTICS ==========")
	fmt.Fprintf(out, "Total Requests:     %d\n", total)
	fmt.Fprintf(out, "Successful:         %d\n", success)
	fmt.Fprintf(out, "Failed:             %s\n", failedStyle(failed))
	fmt.Fprintf(out, "Messages Sent:      %d\n", atomic.LoadInt64(&stats.MessagesSent))
	fmt.Fprintf(out, "Success Rate:       %.2f%%\n", successRate)
	fmt.Fprintf(out, "Average Latency:    %dms\n", avgLatency)
	fmt.Fprintln(out, "======================================")
}

func failedStyle(failed int64) string {
	if failed > 0 {
		return errorStyle.Sprint(failed)
	}
	return fmt.Sprint(failed)
}
