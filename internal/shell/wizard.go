package shell

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/asioctl/internal/asio"
	"github.com/shaiso/asioctl/internal/history"
	"github.com/shaiso/asioctl/internal/taskmon"
)

// cmdRun — мастер запуска: компания → endpoints → скрипт → имя →
// параметры → постановка → наблюдение до завершения.
func (s *Shell) cmdRun(ctx context.Context) error {
	company, err := s.chooseCompany(ctx)
	if err != nil {
		return err
	}
	companyID := fieldString(company, companyIDKeys...)

	endpointIDs, err := s.chooseEndpoints(ctx, companyID)
	if err != nil {
		return err
	}

	script, err := s.chooseScript(ctx)
	if err != nil {
		return err
	}
	scriptID := fieldString(script, scriptIDKeys...)
	scriptName := fieldString(script, scriptNameKeys...)

	taskName, err := s.readLine(`Task name [Automation Task]: `)
	if err != nil {
		return err
	}

	params, err := s.collectParameters(ctx, script)
	if err != nil {
		return err
	}

	templateType := fieldString(script, "templateType", "type")
	if templateType == "" {
		templateType = "fusionscript"
	}
	req := asio.ScheduleRequest{
		TemplateID:   scriptID,
		TemplateType: templateType,
		EndpointIDs:  endpointIDs,
		Name:         taskName,
	}
	if params != nil {
		req.UserParameters = params
	}

	resp, err := fetchWithWait(ctx, s.waiter, func() (map[string]any, error) {
		return s.api.ScheduleScript(ctx, req)
	})
	if err != nil {
		return err
	}

	taskID := fieldString(resp, "taskID", "taskId", "id", "taskInstanceId")
	if taskID == "" {
		s.out.JSON(resp)
		return fmt.Errorf("platform response carries no task id")
	}
	s.out.Success("Task scheduled: " + taskID)

	submittedAt := time.Now().UTC()
	if ts, ok := taskmon.ParseTimestamp(resp["createdOn"]); ok {
		submittedAt = ts
	}

	if s.history != nil {
		err := s.history.RecordSubmission(ctx, history.Entry{
			TaskID:      taskID,
			ScriptID:    scriptID,
			ScriptName:  scriptName,
			CompanyID:   companyID,
			EndpointIDs: endpointIDs,
			SubmittedAt: submittedAt,
		})
		if err != nil {
			s.logger.Warn("failed to record submission", "task_id", taskID, "error", err)
		}
	}

	return s.watchTask(ctx, taskID, submittedAt)
}

// watchTask наблюдает за задачей до завершения и печатает итоги.
func (s *Shell) watchTask(ctx context.Context, taskID string, submittedAt time.Time) error {
	monitor := taskmon.New(taskmon.Config{
		API:         s.api,
		Waiter:      s.waiter,
		Reporter:    statusReporter{out: s.out},
		SubmittedAt: submittedAt,
		Logger:      s.logger,
	})

	s.out.Notice("Waiting for completion (Ctrl+C to stop watching)...")
	result, err := monitor.Wait(ctx, taskID)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case taskmon.OutcomeTimedOut:
		s.out.Notice("Timed out waiting. The task keeps running; check later with: summary " + taskID)
	case taskmon.OutcomeCancelled:
		s.out.Notice("Stopped watching. The task keeps running; check later with: summary " + taskID)
	case taskmon.OutcomeDone:
		s.printOutcome(taskID, result)
	}

	if s.history != nil {
		var total *time.Duration
		if result.HasTotal {
			total = &result.Total
		}
		err := s.history.RecordOutcome(ctx, taskID, string(result.Outcome), time.Now().UTC(), total)
		if err != nil {
			s.logger.Warn("failed to record outcome", "task_id", taskID, "error", err)
		}
	}
	return nil
}

func (s *Shell) printOutcome(taskID string, result *taskmon.Result) {
	headers := []string{"INSTANCE", "STATUS", "DURATION"}
	rows := make([][]string, len(result.Instances))
	for i, inst := range result.Instances {
		duration := ""
		if inst.Elapsed > 0 || inst.FromSubmission {
			duration = taskmon.FormatDuration(inst.Elapsed)
		}
		rows[i] = []string{inst.ID, inst.Status, duration}
	}
	s.out.Print(headers, rows, result)

	for _, inst := range result.Instances {
		if inst.Err != nil {
			s.out.Notice(fmt.Sprintf("Instance %s: results unavailable: %v", inst.ID, inst.Err))
			continue
		}
		if inst.Output != "" {
			s.out.Text("--- " + inst.ID + " ---")
			s.out.Text(inst.Output)
		}
	}
	if result.HasTotal {
		s.out.Notice("Task " + taskID + " finished in " + taskmon.FormatDuration(result.Total) + ".")
	} else {
		s.out.Notice("Task " + taskID + " finished.")
	}
}

type statusReporter struct {
	out *Output
}

func (r statusReporter) StatusChanged(instanceID, status string) {
	if status == "" {
		status = "unknown"
	}
	r.out.Notice(fmt.Sprintf("Instance %s: %s", instanceID, status))
}

func (s *Shell) chooseCompany(ctx context.Context) (map[string]any, error) {
	companies, err := s.loadCompanies(ctx)
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, fmt.Errorf("no companies visible to these credentials")
	}
	for i, company := range companies {
		s.out.Textf("%3d. %s", i+1, fieldString(company, companyNameKeys...))
	}
	for {
		answer, err := s.readLine("Company (number, id, or name): ")
		if err != nil {
			return nil, err
		}
		company, err := s.resolveCompany(ctx, answer)
		if err == nil {
			return company, nil
		}
		s.out.Error(err.Error())
	}
}

// chooseEndpoints принимает номера из листинга или id, списком
// через запятую.
func (s *Shell) chooseEndpoints(ctx context.Context, companyID string) ([]string, error) {
	endpoints, err := s.loadEndpoints(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("the company has no endpoints")
	}
	for i, endpoint := range endpoints {
		s.out.Textf("%3d. %s", i+1, fieldString(endpoint, endpointNameKeys...))
	}

	for {
		answer, err := s.readLine("Endpoints (numbers or ids, comma-separated): ")
		if err != nil {
			return nil, err
		}
		ids, resolveErr := resolveEndpointSelection(endpoints, answer)
		if resolveErr == nil {
			return ids, nil
		}
		s.out.Error(resolveErr.Error())
	}
}

func resolveEndpointSelection(endpoints []map[string]any, answer string) ([]string, error) {
	parts := strings.Split(answer, ",")
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		id := ""
		if n, err := strconv.Atoi(token); err == nil && n >= 1 && n <= len(endpoints) {
			id = fieldString(endpoints[n-1], endpointIDKeys...)
		} else {
			for _, endpoint := range endpoints {
				candidate := fieldString(endpoint, endpointIDKeys...)
				if strings.EqualFold(candidate, token) {
					id = candidate
					break
				}
			}
		}
		if id == "" {
			return nil, fmt.Errorf("endpoint %q not found", token)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("select at least one endpoint")
	}
	return ids, nil
}

func (s *Shell) chooseScript(ctx context.Context) (map[string]any, error) {
	scripts, err := s.loadScripts(ctx)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no automation scripts available")
	}
	for i, script := range scripts {
		s.out.Textf("%3d. %s", i+1, fieldString(script, scriptNameKeys...))
	}

	for {
		answer, err := s.readLine("Script (number, id, or name): ")
		if err != nil {
			return nil, err
		}
		if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(scripts) {
			return scripts[n-1], nil
		}
		for _, script := range scripts {
			if strings.EqualFold(fieldString(script, scriptIDKeys...), answer) ||
				strings.EqualFold(fieldString(script, scriptNameKeys...), answer) {
				return script, nil
			}
		}
		s.out.Error(fmt.Sprintf("script %q not found", answer))
	}
}

// collectParameters собирает параметры скрипта. Скрипты без флага
// hasParameters параметров не получают. Для остальных схема берётся
// из task definition скрипта (поле JSONSchema, JSON-строкой), а
// userParameters оттуда же служат образцом значений по умолчанию.
// Без схемы параметры вводятся вручную.
func (s *Shell) collectParameters(ctx context.Context, script map[string]any) (any, error) {
	if !fieldBool(script, "hasParameters") {
		return nil, nil
	}

	var schema, sample any
	if def := s.findTaskDefinition(ctx, script); def != nil {
		raw := def["JSONSchema"]
		if raw == nil {
			raw = def["jsonSchema"]
		}
		schema = parseJSONValue(raw)
		sample = parseJSONValue(def["userParameters"])
	}

	if fields := parameterFields(schema); len(fields) > 0 {
		applySampleDefaults(fields, sample)
		return s.promptSchemaParameters(fields)
	}
	return s.promptManualParameters(sample)
}

func (s *Shell) promptSchemaParameters(fields []paramField) (any, error) {
	params := make(map[string]any)
	for _, field := range fields {
		if err := s.promptField(field, params); err != nil {
			return nil, err
		}
	}

	extra, err := s.readLine("Extra parameters JSON (optional): ")
	if err != nil {
		return nil, err
	}
	if err := mergeExtraJSON(params, extra); err != nil {
		s.out.Error(err.Error())
	}
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

// promptManualParameters собирает параметры без схемы. Образец-объект
// превращается в поля со значениями по умолчанию, образец-список
// можно взять как есть или перенабрать поэлементно.
func (s *Shell) promptManualParameters(sample any) (any, error) {
	params := make(map[string]any)

	switch v := sample.(type) {
	case map[string]any:
		s.out.Notice("Provide values for the sample parameters (blank keeps the default).")
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			label := name
			if v[name] != nil {
				label += " [" + stringifyParam(v[name]) + "]"
			}
			answer, err := s.readLine(label + ": ")
			if err != nil {
				return nil, err
			}
			if answer == "" {
				if v[name] != nil {
					params[name] = v[name]
				}
				continue
			}
			params[name] = parseLooseValue(answer)
		}
	case []any:
		s.out.Notice("Sample parameter list:")
		s.out.JSON(v)
		answer, err := s.readLine("Use the sample list as-is? [y/N]: ")
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return v, nil
		}
		s.out.Notice("Enter list items (blank line to finish).")
		var items []any
		for {
			answer, err := s.readLine(fmt.Sprintf("Item %d: ", len(items)+1))
			if err != nil {
				return nil, err
			}
			if answer == "" {
				break
			}
			items = append(items, parseLooseValue(answer))
		}
		if len(items) == 0 {
			return nil, nil
		}
		return items, nil
	default:
		s.out.Notice("The script requires parameters. Enter key/value pairs (blank key to finish).")
	}

	for {
		key, err := s.readLine("Parameter key: ")
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		value, err := s.readLine("Value for " + key + ": ")
		if err != nil {
			return nil, err
		}
		params[key] = parseLooseValue(value)
	}
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

// applySampleDefaults накладывает значения из userParameters поверх
// default'ов схемы, поле в поле.
func applySampleDefaults(fields []paramField, sample any) {
	values, ok := sample.(map[string]any)
	if !ok {
		return
	}
	for i := range fields {
		if value, present := values[fields[i].Name]; present && value != nil {
			fields[i].Default = value
		}
	}
}

func (s *Shell) promptField(field paramField, params map[string]any) error {
	label := field.Name
	if field.Type != "" {
		label += " (" + field.Type + ")"
	}
	if len(field.Enum) > 0 {
		label += " {" + strings.Join(field.Enum, "|") + "}"
	}
	if field.Default != nil {
		label += " [" + stringifyParam(field.Default) + "]"
	}
	if field.Description != "" {
		s.out.Notice("  " + field.Description)
	}

	for {
		answer, err := s.readLine(label + ": ")
		if err != nil {
			return err
		}
		if answer == "" {
			if field.Default != nil {
				params[field.Name] = field.Default
				return nil
			}
			if !field.Required {
				return nil
			}
			s.out.Error(field.Name + " is required")
			continue
		}
		value, convErr := convertParamValue(field, answer)
		if convErr != nil {
			s.out.Error(convErr.Error())
			continue
		}
		params[field.Name] = value
		return nil
	}
}

// findTaskDefinition ищет task definition скрипта: сперва по
// templateID, затем по id определения, в последнюю очередь по имени.
func (s *Shell) findTaskDefinition(ctx context.Context, script map[string]any) map[string]any {
	scriptID := fieldString(script, scriptIDKeys...)
	scriptName := fieldString(script, scriptNameKeys...)
	defs := s.loadTaskDefinitions(ctx)

	if scriptID != "" {
		for _, def := range defs {
			templateID := fieldString(def, "templateID", "templateId")
			if templateID != "" && strings.EqualFold(templateID, scriptID) {
				return def
			}
		}
		for _, def := range defs {
			if id := fieldString(def, "id"); id != "" && strings.EqualFold(id, scriptID) {
				return def
			}
		}
	}
	if scriptName != "" {
		for _, def := range defs {
			if fieldString(def, "name") == scriptName {
				return def
			}
		}
	}
	return nil
}
