package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	serviceName     = "methyl-orch"
	systemdUnitPath = "/etc/systemd/system/methyl-orch.service"
)

// systemd unit running the scheduler
const systemdUnitTemplate = `[Unit]
Description=Methylation pipeline scheduler
After=local-fs.target

[Service]
Type=simple
ExecStart={{.ExecStart}}
{{if .WorkDir}}WorkingDirectory={{.WorkDir}}
{{end}}Restart=on-failure
RestartSec=30
# stages are stopped by the scheduler, not by systemd
KillMode=mixed
KillSignal=SIGTERM
TimeoutStopSec=60
{{if .User}}User={{.User}}
{{end}}{{if .Group}}Group={{.Group}}
{{end}}
StandardOutput=journal
StandardError=journal
SyslogIdentifier=methyl-orch

[Install]
WantedBy=multi-user.target
`

type unitConfig struct {
	ExecStart string
	WorkDir   string
	User      string
	Group     string
}

var (
	serviceUser    string
	serviceGroup   string
	serviceWorkDir string
)

func init() {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the methyl-orch scheduler as a systemd service",
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install and enable the scheduler service (requires root)",
		RunE:  runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceUser, "user", "", "user to run the service as")
	installCmd.Flags().StringVar(&serviceGroup, "group", "", "group to run the service as")
	installCmd.Flags().StringVar(&serviceWorkDir, "workdir", "", "working directory for relative sample paths")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop, disable and remove the scheduler service",
		RunE:  runServiceUninstall,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the scheduler service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLinux(); err != nil {
				return err
			}
			if !serviceInstalled() {
				fmt.Println("Service not installed. Install with: methyl-orch service install")
				return nil
			}
			return runCmdInteractive("systemctl", "status", serviceName, "--no-pager")
		},
	}

	serviceCmd.AddCommand(installCmd, uninstallCmd, statusCmd)
	rootCmd.AddCommand(serviceCmd)
}

func renderUnit(cfg unitConfig) (string, error) {
	tmpl, err := template.New("unit").Parse(systemdUnitTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing unit template: %w", err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, cfg); err != nil {
		return "", fmt.Errorf("executing unit template: %w", err)
	}
	return b.String(), nil
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	if err := requireLinux(); err != nil {
		return err
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required to install service. Try: sudo %s service install", os.Args[0])
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating methyl-orch binary: %w", err)
	}
	if execPath, err = filepath.EvalSymlinks(execPath); err != nil {
		return err
	}
	cfgPath, err := filepath.Abs(resolvedConfigPath())
	if err != nil {
		return err
	}

	unit, err := renderUnit(unitConfig{
		ExecStart: fmt.Sprintf("%s --config %s schedule", execPath, cfgPath),
		WorkDir:   serviceWorkDir,
		User:      serviceUser,
		Group:     serviceGroup,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(systemdUnitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}
	fmt.Printf("Created systemd unit: %s\n", systemdUnitPath)

	if err := runCmd("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("reloading systemd: %w", err)
	}
	if err := runCmd("systemctl", "enable", "--now", serviceName); err != nil {
		return fmt.Errorf("enabling service: %w", err)
	}

	fmt.Println("Service installed and started. View logs with: journalctl -u methyl-orch -f")
	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	if err := requireLinux(); err != nil {
		return err
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required. Try: sudo %s service uninstall", os.Args[0])
	}

	_ = runCmd("systemctl", "disable", "--now", serviceName)

	if err := os.Remove(systemdUnitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	if err := runCmd("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("reloading systemd: %w", err)
	}

	fmt.Println("Service uninstalled.")
	return nil
}

func requireLinux() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("systemd service management is only supported on Linux")
	}
	return nil
}

func serviceInstalled() bool {
	_, err := os.Stat(systemdUnitPath)
	return err == nil
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func runCmdInteractive(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
