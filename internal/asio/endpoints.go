package asio

import (
	"context"
	"fmt"
)

// Пути платформенного API.
const (
	pathCompanies       = "/api/platform/v1/company/companies"
	pathScripts         = "/api/platform/v1/automation/scripts"
	pathTaskDefinitions = "/api/platform/v1/automation/task-definitions"
	pathScheduleTasks   = "/api/platform/v1/automation/endpoints/schedule-tasks"
)

// Значения по умолчанию для постановки задачи.
const (
	defaultTaskName      = "Automation Task"
	defaultResourcesType = "Both"
	targetTypeEndpoint   = "MANAGED_ENDPOINT"
)

// ScheduleRequest — постановка скрипта на выполнение.
type ScheduleRequest struct {
	TemplateID   string
	TemplateType string
	EndpointIDs  []string

	// Name — имя задачи; пустое → "Automation Task".
	Name string

	// ResourcesType — тип ресурсов; пустое → "Both".
	ResourcesType string

	// Schedule — расписание платформы; nil → немедленный запуск.
	Schedule map[string]any

	// UserParameters — параметры скрипта; nil → не передаются.
	UserParameters any
}

// ListCompanies возвращает компании, доступные credentials.
func (c *Client) ListCompanies(ctx context.Context) ([]map[string]any, error) {
	data, err := c.Get(ctx, pathCompanies, nil)
	if err != nil {
		return nil, err
	}
	return listUnder(data, "companies"), nil
}

// ListCompanySites возвращает сайты компании.
func (c *Client) ListCompanySites(ctx context.Context, companyID string) ([]map[string]any, error) {
	data, err := c.Get(ctx, fmt.Sprintf("%s/%s/sites", pathCompanies, companyID), nil)
	if err != nil {
		return nil, err
	}
	return listUnder(data, "sites"), nil
}

// ListCompanyEndpoints возвращает endpoints компании.
func (c *Client) ListCompanyEndpoints(ctx context.Context, clientID string) ([]map[string]any, error) {
	data, err := c.Get(ctx, fmt.Sprintf("/api/platform/v1/device/clients/%s/endpoints", clientID), nil)
	if err != nil {
		return nil, err
	}
	return listUnder(data, "endpoints"), nil
}

// GetEndpointDetail возвращает карточку endpoint'а.
func (c *Client) GetEndpointDetail(ctx context.Context, endpointID string) (map[string]any, error) {
	data, err := c.Get(ctx, fmt.Sprintf("/api/platform/v1/device/endpoints/%s", endpointID), nil)
	if err != nil {
		return nil, err
	}
	return asObject(data), nil
}

// ListScripts возвращает automation-скрипты.
func (c *Client) ListScripts(ctx context.Context) ([]map[string]any, error) {
	data, err := c.Get(ctx, pathScripts, nil)
	if err != nil {
		return nil, err
	}
	return listUnder(data, "scripts"), nil
}

// ListTaskDefinitions возвращает определения задач (схемы параметров
// скриптов).
func (c *Client) ListTaskDefinitions(ctx context.Context) ([]map[string]any, error) {
	data, err := c.Get(ctx, pathTaskDefinitions, nil)
	if err != nil {
		return nil, err
	}
	return listUnder(data, "taskDefinitions"), nil
}

// ScheduleScript ставит скрипт на выполнение на указанных endpoints.
func (c *Client) ScheduleScript(ctx context.Context, req ScheduleRequest) (map[string]any, error) {
	name := req.Name
	if name == "" {
		name = defaultTaskName
	}
	resourcesType := req.ResourcesType
	if resourcesType == "" {
		resourcesType = defaultResourcesType
	}
	schedule := req.Schedule
	if schedule == nil {
		schedule = map[string]any{
			"regularity":   "Immediate",
			"category":     "STZ",
			"scheduleType": "TIME",
		}
	}

	payload := map[string]any{
		"name":          name,
		"templateType":  req.TemplateType,
		"templateID":    req.TemplateID,
		"targets":       req.EndpointIDs,
		"targetType":    targetTypeEndpoint,
		"resourcesType": resourcesType,
		"schedule":      schedule,
	}
	if req.UserParameters != nil {
		payload["userParameters"] = req.UserParameters
	}

	data, err := c.Post(ctx, pathScheduleTasks, payload)
	if err != nil {
		return nil, err
	}
	return asObject(data), nil
}

// GetTaskInstancesSummary возвращает сводку по инстансам задачи.
func (c *Client) GetTaskInstancesSummary(ctx context.Context, taskID string) (map[string]any, error) {
	data, err := c.Get(ctx, fmt.Sprintf("/api/platform/v1/automation/tasks/%s/instances/summary", taskID), nil)
	if err != nil {
		return nil, err
	}
	return asObject(data), nil
}

// GetTaskInstanceResults возвращает детальные результаты инстанса.
// Форма ответа не фиксирована (объект или массив), поэтому any.
func (c *Client) GetTaskInstanceResults(ctx context.Context, taskID, instanceID string) (any, error) {
	return c.Get(ctx, fmt.Sprintf("/api/platform/v1/automation/tasks/%s/instances/%s/results", taskID, instanceID), nil)
}

// listUnder достаёт список объектов: либо из ключа key в объекте,
// либо из ответа-массива напрямую. Всё прочее — пустой список.
func listUnder(data any, key string) []map[string]any {
	switch v := data.(type) {
	case map[string]any:
		if nested, ok := v[key].([]any); ok {
			return objectsOf(nested)
		}
		return nil
	case []any:
		return objectsOf(v)
	default:
		return nil
	}
}

func objectsOf(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func asObject(data any) map[string]any {
	if obj, ok := data.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}
