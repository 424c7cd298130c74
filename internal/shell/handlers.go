package shell

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/asioctl/internal/asio"
	"github.com/shaiso/asioctl/internal/scope"
	"github.com/shaiso/asioctl/internal/taskmon"
)

func (s *Shell) cmdCompanies(ctx context.Context) error {
	companies, err := s.loadCompanies(ctx)
	if err != nil {
		return err
	}
	if len(companies) == 0 {
		s.out.Notice("No companies visible to these credentials.")
		return nil
	}

	headers := []string{"#", "ID", "NAME"}
	rows := make([][]string, len(companies))
	for i, company := range companies {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			fieldString(company, companyIDKeys...),
			fieldString(company, companyNameKeys...),
		}
	}
	s.out.Print(headers, rows, companies)
	return nil
}

func (s *Shell) cmdEndpoints(ctx context.Context, companyArg string) error {
	company, err := s.resolveCompany(ctx, companyArg)
	if err != nil {
		return err
	}
	companyID := fieldString(company, companyIDKeys...)
	endpoints, err := s.loadEndpoints(ctx, companyID)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		s.out.Notice("No endpoints for " + fieldString(company, companyNameKeys...) + ".")
		return nil
	}

	headers := []string{"#", "ID", "NAME", "OS", "STATUS"}
	rows := make([][]string, len(endpoints))
	for i, endpoint := range endpoints {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			fieldString(endpoint, endpointIDKeys...),
			fieldString(endpoint, endpointNameKeys...),
			fieldString(endpoint, "osName", "operatingSystem", "os"),
			fieldString(endpoint, "status", "state", "availability"),
		}
	}
	s.out.Print(headers, rows, endpoints)
	return nil
}

func (s *Shell) cmdSites(ctx context.Context, companyArg string) error {
	company, err := s.resolveCompany(ctx, companyArg)
	if err != nil {
		return err
	}
	sites, err := s.api.ListCompanySites(ctx, fieldString(company, companyIDKeys...))
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		s.out.Notice("No sites for " + fieldString(company, companyNameKeys...) + ".")
		return nil
	}

	headers := []string{"#", "ID", "NAME", "CITY"}
	rows := make([][]string, len(sites))
	for i, site := range sites {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			fieldString(site, "id", "siteId"),
			fieldString(site, "name", "siteName"),
			fieldString(site, "city", "location"),
		}
	}
	s.out.Print(headers, rows, sites)
	return nil
}

func (s *Shell) cmdScripts(ctx context.Context) error {
	scripts, err := s.loadScripts(ctx)
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		s.out.Notice("No automation scripts available.")
		return nil
	}

	headers := []string{"#", "ID", "NAME", "CATEGORY"}
	rows := make([][]string, len(scripts))
	for i, script := range scripts {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			fieldString(script, scriptIDKeys...),
			fieldString(script, scriptNameKeys...),
			fieldString(script, "category", "categoryName"),
		}
	}
	s.out.Print(headers, rows, scripts)
	return nil
}

func (s *Shell) cmdSummary(ctx context.Context, taskID string) error {
	summary, err := fetchWithWait(ctx, s.waiter, func() (map[string]any, error) {
		return s.api.GetTaskInstancesSummary(ctx, taskID)
	})
	if err != nil {
		return err
	}

	instances := taskmon.Instances(summary)
	if len(instances) == 0 {
		s.out.JSON(summary)
		return nil
	}
	headers := []string{"INSTANCE", "STATUS", "STARTED", "COMPLETED"}
	rows := make([][]string, len(instances))
	for i, inst := range instances {
		rows[i] = []string{inst.ID, inst.Status, inst.Started, inst.Completed}
	}
	s.out.Print(headers, rows, summary)
	return nil
}

func (s *Shell) cmdResults(ctx context.Context, taskID, instanceID string) error {
	results, err := fetchWithWait(ctx, s.waiter, func() (any, error) {
		return s.api.GetTaskInstanceResults(ctx, taskID, instanceID)
	})
	if err != nil {
		return err
	}
	if output := taskmon.Output(results); output != "" && !s.out.jsonMode {
		s.out.Text(output)
		return nil
	}
	s.out.JSON(results)
	return nil
}

func (s *Shell) cmdScopecheck(ctx context.Context) error {
	if s.exchanger == nil {
		return fmt.Errorf("no credentials configured")
	}
	engine := scope.NewEngine(scope.Config{
		Exchanger: s.exchanger,
		Waiter:    s.waiter,
		Logger:    s.logger,
	})

	s.out.Notice(fmt.Sprintf("Probing %d scopes individually...", len(s.scopes)))
	report, err := engine.Discover(ctx, s.scopes)
	if err != nil && !errors.Is(err, scope.ErrNoScopesAllowed) {
		return err
	}

	headers := []string{"SCOPE", "RESULT"}
	rows := make([][]string, len(report.Probes))
	for i, probe := range report.Probes {
		result := "denied"
		if probe.Allowed {
			result = "granted"
		}
		rows[i] = []string{probe.Scope, result}
	}
	s.out.Print(headers, rows, report)

	for _, step := range report.Combo {
		if !step.Kept {
			s.out.Notice(fmt.Sprintf("Scope %s conflicts in combination, dropped.", step.Scope))
		}
	}

	if errors.Is(err, scope.ErrNoScopesAllowed) {
		s.out.Notice("None of the configured scopes are granted.")
		return nil
	}
	s.out.Notice(fmt.Sprintf("Working combination (%d of %d): %s",
		len(report.Accepted), len(s.scopes), strings.Join(report.Accepted, " ")))
	return nil
}

func (s *Shell) cmdHistory(ctx context.Context) error {
	if s.history == nil {
		s.out.Notice("History is disabled.")
		return nil
	}
	entries, err := s.history.Recent(ctx, 20)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.out.Notice("No task runs recorded yet.")
		return nil
	}

	headers := []string{"TASK", "SCRIPT", "SUBMITTED", "OUTCOME", "DURATION"}
	rows := make([][]string, len(entries))
	for i, entry := range entries {
		name := entry.ScriptName
		if name == "" {
			name = entry.ScriptID
		}
		duration := ""
		if entry.Total != nil {
			duration = taskmon.FormatDuration(*entry.Total)
		}
		rows[i] = []string{
			entry.TaskID,
			name,
			entry.SubmittedAt.Format("2006-01-02 15:04:05"),
			entry.Outcome,
			duration,
		}
	}
	s.out.Print(headers, rows, entries)
	return nil
}

// cmdDebug без аргумента переключает трассировку, on/off задают
// состояние явно, status только показывает его.
func (s *Shell) cmdDebug(args []string) error {
	mode := "toggle"
	if len(args) > 0 {
		mode = strings.ToLower(args[0])
	}
	switch mode {
	case "toggle":
		s.setDebug(!s.debug.Enabled())
	case "on":
		s.setDebug(true)
	case "off":
		s.setDebug(false)
	case "status":
		if s.debug.Enabled() {
			s.out.Notice("Debug tracing is on.")
		} else {
			s.out.Notice("Debug tracing is off.")
		}
	default:
		return fmt.Errorf("usage: debug [on|off|status]")
	}
	return nil
}

// setDebug включает или выключает трассировку вместе с HTTP
// recorder'ом клиента.
func (s *Shell) setDebug(enabled bool) {
	s.debug.SetEnabled(enabled)
	if s.client != nil {
		if enabled {
			s.client.SetHTTPRecorder(s.debug.Recorder())
		} else {
			s.client.SetHTTPRecorder(nil)
		}
	}
	if enabled {
		s.out.Notice("Debug tracing on. Secrets stay masked.")
	} else {
		s.out.Notice("Debug tracing off.")
	}
}

// fetchWithWait выполняет один запрос, пережидая 429 с отсчётом.
func fetchWithWait[T any](ctx context.Context, waiter asio.Waiter, fetch func() (T, error)) (T, error) {
	for {
		value, err := fetch()
		if err == nil {
			return value, nil
		}
		var rl *asio.RateLimitError
		if errors.As(err, &rl) {
			if werr := waiter.Wait(ctx, rl.RetryAfter); werr != nil {
				var zero T
				return zero, werr
			}
			continue
		}
		return value, err
	}
}
