package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/chatmeter/internal/chat"
	"github.com/theirongolddev/chatmeter/internal/cli"
	"github.com/theirongolddev/chatmeter/internal/ledger"
	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/provider"
	"github.com/theirongolddev/chatmeter/internal/tokens"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a model, metering every message",
	Long: "Start a metered chat session. Type a message and press enter.\n" +
		"Commands: /cost, /budget, /model <id>, /models, /help, /quit.",
	RunE: runChat,
}

var chatModel string

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model id (default from config)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Provider.APIKey == "" {
		return errors.New("no API key: set OPENROUTER_API_KEY or run `chatmeter setup`")
	}

	modelID := chatModel
	if modelID == "" {
		modelID = a.pricing.DefaultModel()
	}
	p, ok := a.pricing.Lookup(modelID)
	if !ok || !p.Available {
		return fmt.Errorf("%w: %s (see `chatmeter compare --assumed`)", chat.ErrUnknownModel, modelID)
	}

	client := provider.New(provider.Options{
		BaseURL:           a.cfg.Provider.BaseURL,
		APIKey:            a.cfg.Provider.APIKey,
		Referer:           a.cfg.Provider.Referer,
		Title:             a.cfg.Provider.Title,
		Timeout:           a.cfg.Provider.Timeout(),
		Temperature:       a.cfg.Provider.Temperature,
		MaxTokens:         a.cfg.Provider.MaxTokens,
		RequestsPerMinute: a.cfg.Provider.RequestsPerMinute,
		Metrics:           a.metrics,
	}, a.log.Named("provider"))
	led := a.newLedger()
	conv := chat.New(client, led, tokens.New(a.log), a.pricing, a.cfg.General.SystemPrompt, p.ID, a.log.Named("chat"))

	ctx := cmd.Context()
	sessionID, err := led.Start(ctx, conv.Model())
	if err != nil {
		return err
	}
	defer endChat(ctx, a, led)

	fmt.Println()
	fmt.Printf("  chatmeter · %s · session %s\n", p.Name, sessionID)
	fmt.Println(cli.RenderNotice("/help for commands, /quit or Ctrl+D to leave"))
	fmt.Println()

	lines := readLines(ctx, os.Stdin)
	for {
		fmt.Print("you> ")
		var text string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
			text = strings.TrimSpace(line)
		}
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			quit, err := chatCommand(ctx, a, conv, led, text)
			if err != nil {
				fmt.Println(cli.RenderWarning(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		fmt.Print("bot> ")
		ex, err := conv.Send(ctx, text, func(fragment string) { fmt.Print(fragment) })
		fmt.Println()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var perr *provider.ProviderError
			if errors.As(err, &perr) {
				fmt.Println(cli.RenderWarning(perr.Error()))
			} else {
				fmt.Println(cli.RenderWarning("request failed: " + err.Error()))
			}
			continue
		}

		sum := led.Summary()
		estimated := ""
		if !ex.Reported {
			estimated = " (estimated)"
		}
		fmt.Println(cli.RenderNotice(fmt.Sprintf("%s in %d / out %d tokens%s · session %s",
			cli.FormatCost(ex.User.Cost.Add(ex.Assistant.Cost)),
			ex.User.InputTokens,
			ex.Assistant.OutputTokens,
			estimated,
			cli.FormatCost(sum.TotalCost))))
		fmt.Println()
	}
}

// readLines feeds stdin lines to a channel so the prompt loop can also
// watch for cancellation.
func readLines(ctx context.Context, f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func chatCommand(ctx context.Context, a *app, conv *chat.Conversation, led *ledger.Ledger, text string) (bool, error) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		fmt.Println("  /cost          running session cost")
		fmt.Println("  /budget        budget usage (this session is charged when it ends)")
		fmt.Println("  /model <id>    switch model")
		fmt.Println("  /models        available models and rates")
		fmt.Println("  /quit          end the session")

	case "/cost":
		sum := led.Summary()
		fmt.Printf("  %s over %d messages (%s in / %s out tokens), %s per message\n",
			cli.FormatCost(sum.TotalCost),
			sum.TotalMessages,
			cli.FormatTokens(sum.TotalInputTokens),
			cli.FormatTokens(sum.TotalOutputTokens),
			cli.FormatCost(sum.AvgCostPerMessage))

	case "/budget":
		ctx, cancel := a.storeContext(ctx)
		defer cancel()
		for _, bt := range model.BudgetTypes {
			st, err := a.budgets.Status(ctx, bt)
			if err != nil {
				return false, err
			}
			printBudgetStatus(st)
		}

	case "/model":
		if len(fields) < 2 {
			fmt.Printf("  current model: %s\n", conv.Model())
			return false, nil
		}
		if err := conv.SetModel(fields[1]); err != nil {
			return false, err
		}
		fmt.Printf("  switched to %s\n", conv.Model())

	case "/models":
		for _, m := range a.pricing.Available() {
			marker := " "
			if m.ID == conv.Model() {
				marker = "*"
			}
			fmt.Printf("  %s %-28s in %s  out %s\n", marker, m.ID, cli.FormatRate(m.InputPerMTok), cli.FormatRate(m.OutputPerMTok))
		}

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

// endChat closes the session even when ctx was cancelled by an interrupt.
func endChat(ctx context.Context, a *app, led *ledger.Ledger) {
	sess, err := led.End(context.WithoutCancel(ctx))
	if err != nil {
		a.log.Warn("ending session", zap.Error(err))
		return
	}
	fmt.Println()
	fmt.Printf("  Session %s ended: %d messages, %s\n", sess.SessionID, sess.TotalMessages, cli.FormatCost(sess.TotalCost))

	actx, cancel := a.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	alerts, err := a.budgets.Alerts(actx)
	if err != nil {
		a.log.Warn("checking budgets", zap.Error(err))
		return
	}
	for _, al := range alerts {
		fmt.Println(cli.RenderWarning(al.Message))
	}
}
