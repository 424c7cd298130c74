package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/shaiso/asioctl/internal/asio"
	"github.com/shaiso/asioctl/internal/history"
	"github.com/shaiso/asioctl/internal/scope"
)

// platformAPI — срез клиента платформы, который использует оболочка.
type platformAPI interface {
	ListCompanies(ctx context.Context) ([]map[string]any, error)
	ListCompanySites(ctx context.Context, companyID string) ([]map[string]any, error)
	ListCompanyEndpoints(ctx context.Context, companyID string) ([]map[string]any, error)
	GetEndpointDetail(ctx context.Context, endpointID string) (map[string]any, error)
	ListScripts(ctx context.Context) ([]map[string]any, error)
	ListTaskDefinitions(ctx context.Context) ([]map[string]any, error)
	ScheduleScript(ctx context.Context, req asio.ScheduleRequest) (map[string]any, error)
	GetTaskInstancesSummary(ctx context.Context, taskID string) (map[string]any, error)
	GetTaskInstanceResults(ctx context.Context, taskID, instanceID string) (any, error)
}

// Config — зависимости оболочки.
type Config struct {
	Client *asio.Client
	Output *Output

	// Input — источник строк оператора (default: os.Stdin).
	Input io.Reader

	// History — журнал постановок; nil отключает команду history
	// и запись итогов.
	History *history.Store

	// Scopes — настроенный список scopes для scopecheck.
	Scopes []string

	// Debug — printer отладочных снапшотов; nil создаётся поверх
	// Output.
	Debug *DebugPrinter

	Logger *slog.Logger
}

// Shell — интерактивная оболочка оператора. Однопоточная: команда
// занимает сессию целиком, Ctrl+C прерывает команду, а не сессию.
type Shell struct {
	api       platformAPI
	client    *asio.Client
	exchanger scope.Exchanger
	out       *Output
	in        *bufio.Scanner
	waiter    asio.Waiter
	history   *history.Store
	caches    *caches
	scopes    []string
	debug     *DebugPrinter
	logger    *slog.Logger
}

// New создаёт Shell.
func New(cfg Config) *Shell {
	out := cfg.Output
	if out == nil {
		out = NewOutput(false)
	}
	input := cfg.Input
	if input == nil {
		input = os.Stdin
	}
	debug := cfg.Debug
	if debug == nil {
		debug = NewDebugPrinter(out)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sh := &Shell{
		api:     cfg.Client,
		client:  cfg.Client,
		out:     out,
		in:      bufio.NewScanner(input),
		waiter:  NewCountdownWaiter(out),
		history: cfg.History,
		caches:  newCaches(),
		scopes:  cfg.Scopes,
		debug:   debug,
		logger:  logger,
	}
	if cfg.Client != nil {
		sh.exchanger = cfg.Client.Tokens()
	}
	return sh
}

// Run запускает REPL до quit/exit, EOF или отмены контекста.
// Ошибка команды печатается, сессия продолжается.
func (s *Shell) Run(ctx context.Context) error {
	s.out.Notice("Asio automation shell. Type 'help' for commands.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out.w, "asio> ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return err
			}
			s.out.Notice("")
			return nil
		}

		tokens, err := splitLine(s.in.Text())
		if err != nil {
			s.out.Error(err.Error())
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if cmd := strings.ToLower(tokens[0]); cmd == "quit" || cmd == "exit" {
			return nil
		}

		// Ctrl+C во время команды отменяет её контекст; сама
		// сессия переживает прерывание.
		cmdCtx, cancel := context.WithCancel(ctx)
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-watchDone:
			}
		}()

		err = s.dispatch(cmdCtx, tokens)
		close(watchDone)
		interrupted := cmdCtx.Err() != nil && ctx.Err() == nil
		cancel()

		// Сигнал, пришедший после завершения команды, не должен
		// отменить следующую.
		select {
		case <-sigCh:
		default:
		}

		switch {
		case interrupted:
			s.out.Notice("Interrupted.")
		case err != nil:
			s.out.Error(err.Error())
		}
	}
}

func (s *Shell) dispatch(ctx context.Context, tokens []string) error {
	cmd, args := strings.ToLower(tokens[0]), tokens[1:]
	switch cmd {
	case "help":
		s.printHelp()
		return nil
	case "companies":
		return s.cmdCompanies(ctx)
	case "endpoints":
		if len(args) != 1 {
			return fmt.Errorf("usage: endpoints <company>")
		}
		return s.cmdEndpoints(ctx, args[0])
	case "sites":
		if len(args) != 1 {
			return fmt.Errorf("usage: sites <company>")
		}
		return s.cmdSites(ctx, args[0])
	case "scripts":
		return s.cmdScripts(ctx)
	case "run":
		return s.cmdRun(ctx)
	case "summary":
		if len(args) != 1 {
			return fmt.Errorf("usage: summary <task-id>")
		}
		return s.cmdSummary(ctx, args[0])
	case "results":
		if len(args) != 2 {
			return fmt.Errorf("usage: results <task-id> <instance-id>")
		}
		return s.cmdResults(ctx, args[0], args[1])
	case "scopecheck":
		return s.cmdScopecheck(ctx)
	case "history":
		return s.cmdHistory(ctx)
	case "debug":
		return s.cmdDebug(args)
	default:
		return fmt.Errorf("unknown command %q, type 'help' for the list", tokens[0])
	}
}

func (s *Shell) printHelp() {
	s.out.Text(`Commands:
  companies                     List companies
  endpoints <company>           List endpoints (by number, id, or name)
  sites <company>               List a company's sites
  scripts                       List automation scripts
  run                           Schedule a script and watch it finish
  summary <task-id>             Show a task's instance summary
  results <task-id> <instance>  Show raw instance results
  scopecheck                    Probe which OAuth scopes are granted
  history                       Show recent task runs
  debug [on|off|status]         Toggle masked request tracing
  quit | exit                   Leave the shell`)
}

// readLine печатает prompt и читает одну строку. EOF — ошибка:
// мастеру без ввода продолжать нечем.
func (s *Shell) readLine(prompt string) (string, error) {
	fmt.Fprint(s.out.w, prompt)
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.in.Text()), nil
}
