package shell

import (
	"github.com/spf13/cobra"
)

// NewShellCmd создаёт команду интерактивной оболочки.
func NewShellCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.Run(cmd.Context())
		},
	}
}

// NewCompaniesCmd — разовый листинг компаний без входа в оболочку.
func NewCompaniesCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "companies",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdCompanies(cmd.Context())
		},
	}
}

// NewEndpointsCmd — разовый листинг endpoint'ов компании.
func NewEndpointsCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints COMPANY",
		Short: "List a company's endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdEndpoints(cmd.Context(), args[0])
		},
	}
}

// NewSitesCmd — разовый листинг сайтов компании.
func NewSitesCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sites COMPANY",
		Short: "List a company's sites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdSites(cmd.Context(), args[0])
		},
	}
}

// NewScriptsCmd — разовый листинг automation-скриптов.
func NewScriptsCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List automation scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdScripts(cmd.Context())
		},
	}
}

// NewRunCmd — мастер запуска скрипта без входа в оболочку.
func NewRunCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Schedule a script and watch it finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdRun(cmd.Context())
		},
	}
}

// NewSummaryCmd — сводка по инстансам задачи.
func NewSummaryCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "summary TASK_ID",
		Short: "Show a task's instance summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdSummary(cmd.Context(), args[0])
		},
	}
}

// NewResultsCmd — сырые результаты инстанса задачи.
func NewResultsCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "results TASK_ID INSTANCE_ID",
		Short: "Show raw instance results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdResults(cmd.Context(), args[0], args[1])
		},
	}
}

// NewScopecheckCmd — проверка, какие OAuth scopes реально выданы.
func NewScopecheckCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "scopecheck",
		Short: "Probe which OAuth scopes are granted",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdScopecheck(cmd.Context())
		},
	}
}

// NewHistoryCmd — недавние постановки задач из локального журнала.
func NewHistoryCmd(shellFn func() (*Shell, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recent task runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellFn()
			if err != nil {
				return err
			}
			return sh.cmdHistory(cmd.Context())
		},
	}
}
