// Package webserver provides nginx and TLS certificate tools executed on
// managed servers.
package webserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/opsloom/opsloom/pkg/tools"
)

func init() {
	tools.Register(tools.ToolDefinition{
		ID:          "nginx_sites",
		Name:        "Nginx Sites",
		Description: "List configured nginx sites on a managed server",
		Category:    tools.CategoryWebserver,
	}, NewNginxSitesTool)

	tools.Register(tools.ToolDefinition{
		ID:               "nginx_manage",
		Name:             "Nginx Manage",
		Description:      "Enable, disable, test or reload nginx configuration",
		Category:         tools.CategoryWebserver,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: nginxNeedsApproval,
	}, NewNginxManageTool)

	tools.Register(tools.ToolDefinition{
		ID:          "cert_status",
		Name:        "Certificate Status",
		Description: "Show certbot certificate status on a managed server",
		Category:    tools.CategoryWebserver,
	}, NewCertStatusTool)

	tools.Register(tools.ToolDefinition{
		ID:               "cert_issue",
		Name:             "Certificate Issue",
		Description:      "Issue or renew a TLS certificate with certbot",
		Category:         tools.CategoryWebserver,
		Modes:            tools.ModesAllowingChanges,
		RequiresApproval: tools.AlwaysApprove,
	}, NewCertIssueTool)
}

// nginxNeedsApproval gates actions that change which sites are served.
// Testing the config is always safe.
func nginxNeedsApproval(input map[string]any) bool {
	action, _ := input["action"].(string)
	switch strings.ToLower(action) {
	case "enable", "disable", "reload":
		return true
	}
	return false
}

func runOn(ctx context.Context, tc *tools.ToolContext, inputServerID, command string, timeout int) (string, error) {
	serverID, err := tc.ResolveServer(inputServerID)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	result, err := tc.Exec(ctx, serverID, command, timeout)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Server: %s\n", tc.ServerName(serverID)))
	sb.WriteString(fmt.Sprintf("Command: %s\n", command))
	sb.WriteString(fmt.Sprintf("Exit Code: %d\n", result.ExitCode))
	if result.Stdout != "" {
		sb.WriteString(fmt.Sprintf("\n--- Output ---\n%s", result.Stdout))
	}
	if result.Stderr != "" {
		sb.WriteString(fmt.Sprintf("\n--- Stderr ---\n%s", result.Stderr))
	}
	return sb.String(), nil
}

// shellQuote wraps an argument in single quotes for safe interpolation.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ---- Nginx Sites Tool ----

type NginxSitesInput struct {
	ServerID string `json:"server_id,omitempty"`
}

func NewNginxSitesTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "nginx_sites",
		Desc: "List available and enabled nginx sites. Read-only.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
		}),
	}, func(ctx context.Context, input *NginxSitesInput) (string, error) {
		command := "ls -l /etc/nginx/sites-available /etc/nginx/sites-enabled 2>/dev/null || ls /etc/nginx/conf.d"
		return runOn(ctx, tc, input.ServerID, command, 30)
	})
}

// ---- Nginx Manage Tool ----

type NginxManageInput struct {
	ServerID string `json:"server_id,omitempty"`
	Action   string `json:"action"`
	Site     string `json:"site,omitempty"`
}

func NewNginxManageTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "nginx_manage",
		Desc: "Manage nginx: test the configuration, reload it, or enable/disable a site. Reload runs a config test first and aborts on failure.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"action":    {Type: schema.String, Required: true, Desc: "One of: test, reload, enable, disable"},
			"site":      {Type: schema.String, Required: false, Desc: "Site name under sites-available (required for enable/disable)"},
		}),
	}, func(ctx context.Context, input *NginxManageInput) (string, error) {
		var command string
		switch strings.ToLower(input.Action) {
		case "test":
			command = "nginx -t"
		case "reload":
			command = "nginx -t && systemctl reload nginx"
		case "enable":
			if input.Site == "" {
				return "Error: site is required for enable", nil
			}
			site := shellQuote(input.Site)
			command = fmt.Sprintf("ln -sf /etc/nginx/sites-available/%s /etc/nginx/sites-enabled/%s && nginx -t", site, site)
		case "disable":
			if input.Site == "" {
				return "Error: site is required for disable", nil
			}
			command = fmt.Sprintf("rm -f /etc/nginx/sites-enabled/%s && nginx -t", shellQuote(input.Site))
		default:
			return fmt.Sprintf("Error: unsupported action %q (use test, reload, enable or disable)", input.Action), nil
		}
		return runOn(ctx, tc, input.ServerID, command, 60)
	})
}

// ---- Certificate Status Tool ----

type CertStatusInput struct {
	ServerID string `json:"server_id,omitempty"`
}

func NewCertStatusTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "cert_status",
		Desc: "Show all certbot-managed certificates and their expiry dates. Read-only.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
		}),
	}, func(ctx context.Context, input *CertStatusInput) (string, error) {
		return runOn(ctx, tc, input.ServerID, "certbot certificates", 60)
	})
}

// ---- Certificate Issue Tool ----

type CertIssueInput struct {
	ServerID string `json:"server_id,omitempty"`
	Domain   string `json:"domain"`
	Email    string `json:"email,omitempty"`
}

func NewCertIssueTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "cert_issue",
		Desc: "Issue or renew a TLS certificate for a domain using certbot's nginx plugin.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"server_id": {Type: schema.String, Required: false, Desc: "Server ID (defaults to the conversation's bound server)"},
			"domain":    {Type: schema.String, Required: true, Desc: "Domain to issue the certificate for"},
			"email":     {Type: schema.String, Required: false, Desc: "Registration email for Let's Encrypt"},
		}),
	}, func(ctx context.Context, input *CertIssueInput) (string, error) {
		command := fmt.Sprintf("certbot --nginx -d %s --non-interactive --agree-tos", shellQuote(input.Domain))
		if input.Email != "" {
			command += fmt.Sprintf(" -m %s", shellQuote(input.Email))
		} else {
			command += " --register-unsafely-without-email"
		}
		return runOn(ctx, tc, input.ServerID, command, 300)
	})
}
