package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/charmbracelet/lipgloss"
)

func printStartupBanner(cfg appConfig, taskID string) {
	fmt.Println(renderStartupBanner(cfg, taskID))
}

func renderStartupBanner(cfg appConfig, taskID string) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╦ ╔╦╗╔╗ ╦ ╦╦╦  ╔╦╗
    ╚═╗╠═╣║  ║ ╠╩╗║ ║║║   ║║
    ╚═╝╩ ╩╩═╝╩ ╚═╝╚═╝╩╩═╝═╩╝`)

	ver := dim.Render("v" + version)
	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + ver, "", separator, ""}

	lines = append(lines, bold.Render("    Listeners"), "")
	lines = append(lines, fmt.Sprintf("    %s  Task           %s", check, cyan.Render(taskID)))
	lines = append(lines, fmt.Sprintf("    %s  Syslog TCP     %s", check, cyan.Render(fmt.Sprintf("%s:%d", cfg.BindHost, cfg.SyslogTCPPort))))
	lines = append(lines, fmt.Sprintf("    %s  Syslog UDP     %s", check, cyan.Render(fmt.Sprintf("%s:%d", cfg.BindHost, cfg.SyslogUDPPort))))
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	if cfg.LogFilePath != "" {
		lines = append(lines, fmt.Sprintf("    %s  File Replay    %s", check, dim.Render(shortenPath(cfg.LogFilePath))))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(cfg.DBPath))))
	if summary := retentionSummary(cfg); summary != "" {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", check, dim.Render(summary)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	if path == "" {
		return "in-memory"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// retentionSummary renders per-protocol retention, or "" when nothing expires.
func retentionSummary(cfg appConfig) string {
	var parts []string
	expiring := false
	for _, p := range model.Protocols {
		days := cfg.retentionDays(p)
		if days > 0 {
			expiring = true
			parts = append(parts, fmt.Sprintf("%s %dd", p, days))
		} else {
			parts = append(parts, fmt.Sprintf("%s kept", p))
		}
	}
	if !expiring {
		return ""
	}
	return strings.Join(parts, ", ")
}
