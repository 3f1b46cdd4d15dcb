// Package database provides MySQL, PostgreSQL and Redis tools the agent can
// run against databases reachable from the orchestrator host.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/opsloom/opsloom/pkg/tools"
)

func init() {
	tools.Register(tools.ToolDefinition{
		ID:          "mysql_query",
		Name:        "MySQL Query",
		Description: "Execute a read-only SQL query on a MySQL database",
		Category:    tools.CategoryDatabase,
	}, NewMySQLQueryTool)

	tools.Register(tools.ToolDefinition{
		ID:               "mysql_execute",
		Name:             "MySQL Execute",
		Description:      "Execute a SQL statement (INSERT/UPDATE/DELETE) on a MySQL database",
		Category:         tools.CategoryDatabase,
		RequiresApproval: tools.AlwaysApprove,
	}, NewMySQLExecuteTool)

	tools.Register(tools.ToolDefinition{
		ID:          "mysql_schema",
		Name:        "MySQL Schema",
		Description: "Get database schema information from MySQL",
		Category:    tools.CategoryDatabase,
	}, NewMySQLSchemaTool)

	tools.Register(tools.ToolDefinition{
		ID:          "postgres_query",
		Name:        "PostgreSQL Query",
		Description: "Execute a read-only SQL query on a PostgreSQL database",
		Category:    tools.CategoryDatabase,
	}, NewPostgresQueryTool)

	tools.Register(tools.ToolDefinition{
		ID:               "postgres_execute",
		Name:             "PostgreSQL Execute",
		Description:      "Execute a SQL statement (INSERT/UPDATE/DELETE) on a PostgreSQL database",
		Category:         tools.CategoryDatabase,
		RequiresApproval: tools.AlwaysApprove,
	}, NewPostgresExecuteTool)

	tools.Register(tools.ToolDefinition{
		ID:          "postgres_schema",
		Name:        "PostgreSQL Schema",
		Description: "Get database schema information from PostgreSQL",
		Category:    tools.CategoryDatabase,
	}, NewPostgresSchemaTool)
}

// isReadOnlyQuery accepts the statement prefixes that cannot mutate data.
func isReadOnlyQuery(query string, allowDescribe bool) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "SHOW") || strings.HasPrefix(q, "EXPLAIN") {
		return true
	}
	return allowDescribe && strings.HasPrefix(q, "DESCRIBE")
}

// scanRows drains a result set into JSON-friendly maps, converting byte
// columns to strings.
func scanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return columns, results, rows.Err()
}

// withLimit appends a LIMIT clause when the query does not already carry one.
func withLimit(query string, limit int) string {
	if strings.Contains(strings.ToUpper(query), "LIMIT") {
		return query
	}
	return fmt.Sprintf("%s LIMIT %d", query, limit)
}

func openSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Second)
	db.SetMaxOpenConns(1)
	return db, nil
}

func mysqlDSN(username, password, host string, port int, database string) string {
	if port <= 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		username, password, host, port, database)
}

func postgresDSN(username, password, host string, port int, database, sslMode string) string {
	if port <= 0 {
		port = 5432
	}
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		host, port, username, password, database, sslMode)
}

// ==================== MySQL Tools ====================

type MySQLQueryInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
}

func NewMySQLQueryTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "mysql_query",
		Desc: "Execute a read-only SQL query on a MySQL database. Returns results as JSON. Only SELECT, SHOW, DESCRIBE and EXPLAIN are allowed.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":     {Type: schema.String, Required: true, Desc: "MySQL server host"},
			"port":     {Type: schema.Integer, Required: false, Desc: "MySQL server port (default: 3306)"},
			"database": {Type: schema.String, Required: true, Desc: "Database name"},
			"username": {Type: schema.String, Required: true, Desc: "Database username"},
			"password": {Type: schema.String, Required: false, Desc: "Database password"},
			"query":    {Type: schema.String, Required: true, Desc: "SQL SELECT query to execute"},
			"limit":    {Type: schema.Integer, Required: false, Desc: "Maximum rows to return (default: 100)"},
		}),
	}, func(ctx context.Context, input *MySQLQueryInput) (string, error) {
		if !isReadOnlyQuery(input.Query, true) {
			return "Error: only SELECT, SHOW, DESCRIBE, and EXPLAIN queries are allowed", nil
		}

		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}

		db, err := openSQL("mysql", mysqlDSN(input.Username, input.Password, input.Host, input.Port, input.Database))
		if err != nil {
			return fmt.Sprintf("Error: failed to connect: %v", err), nil
		}
		defer db.Close()

		rows, err := db.QueryContext(ctx, withLimit(input.Query, limit))
		if err != nil {
			return fmt.Sprintf("Error: query failed: %v", err), nil
		}
		defer rows.Close()

		columns, results, err := scanRows(rows)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"database": input.Database,
			"query":    input.Query,
			"columns":  columns,
			"rows":     len(results),
			"data":     results,
		}, "", "  ")
		return string(data), nil
	})
}

type MySQLExecuteInput struct {
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	Statement string `json:"statement"`
}

func NewMySQLExecuteTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "mysql_execute",
		Desc: "Execute a SQL statement (INSERT/UPDATE/DELETE) on a MySQL database. Use with caution.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":      {Type: schema.String, Required: true, Desc: "MySQL server host"},
			"port":      {Type: schema.Integer, Required: false, Desc: "MySQL server port (default: 3306)"},
			"database":  {Type: schema.String, Required: true, Desc: "Database name"},
			"username":  {Type: schema.String, Required: true, Desc: "Database username"},
			"password":  {Type: schema.String, Required: false, Desc: "Database password"},
			"statement": {Type: schema.String, Required: true, Desc: "SQL statement to execute"},
		}),
	}, func(ctx context.Context, input *MySQLExecuteInput) (string, error) {
		db, err := openSQL("mysql", mysqlDSN(input.Username, input.Password, input.Host, input.Port, input.Database))
		if err != nil {
			return fmt.Sprintf("Error: failed to connect: %v", err), nil
		}
		defer db.Close()

		result, err := db.ExecContext(ctx, input.Statement)
		if err != nil {
			return fmt.Sprintf("Error: statement failed: %v", err), nil
		}

		rowsAffected, _ := result.RowsAffected()
		lastInsertID, _ := result.LastInsertId()

		data, _ := json.MarshalIndent(map[string]any{
			"database":       input.Database,
			"statement":      input.Statement,
			"rows_affected":  rowsAffected,
			"last_insert_id": lastInsertID,
		}, "", "  ")
		return string(data), nil
	})
}

type MySQLSchemaInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Table    string `json:"table,omitempty"`
}

func NewMySQLSchemaTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "mysql_schema",
		Desc: "Get database schema information from MySQL. Lists tables or describes a specific table's columns.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":     {Type: schema.String, Required: true, Desc: "MySQL server host"},
			"port":     {Type: schema.Integer, Required: false, Desc: "MySQL server port (default: 3306)"},
			"database": {Type: schema.String, Required: true, Desc: "Database name"},
			"username": {Type: schema.String, Required: true, Desc: "Database username"},
			"password": {Type: schema.String, Required: false, Desc: "Database password"},
			"table":    {Type: schema.String, Required: false, Desc: "Table name (if omitted, lists all tables)"},
		}),
	}, func(ctx context.Context, input *MySQLSchemaInput) (string, error) {
		db, err := openSQL("mysql", mysqlDSN(input.Username, input.Password, input.Host, input.Port, input.Database))
		if err != nil {
			return fmt.Sprintf("Error: failed to connect: %v", err), nil
		}
		defer db.Close()

		query := "SHOW TABLES"
		if input.Table != "" {
			query = fmt.Sprintf("DESCRIBE `%s`", strings.ReplaceAll(input.Table, "`", ""))
		}

		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Sprintf("Error: query failed: %v", err), nil
		}
		defer rows.Close()

		_, results, err := scanRows(rows)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"database": input.Database,
			"table":    input.Table,
			"schema":   results,
		}, "", "  ")
		return string(data), nil
	})
}

// ==================== PostgreSQL Tools ====================

type PostgresQueryInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
}

func NewPostgresQueryTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "postgres_query",
		Desc: "Execute a read-only SQL query on a PostgreSQL database. Returns results as JSON. Only SELECT, SHOW and EXPLAIN are allowed.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":     {Type: schema.String, Required: true, Desc: "PostgreSQL server host"},
			"port":     {Type: schema.Integer, Required: false, Desc: "PostgreSQL server port (default: 5432)"},
			"database": {Type: schema.String, Required: true, Desc: "Database name"},
			"username": {Type: schema.String, Required: true, Desc: "Database username"},
			"password": {Type: schema.String, Required: false, Desc: "Database password"},
			"ssl_mode": {Type: schema.String, Required: false, Desc: "SSL mode (disable, require, verify-ca, verify-full)"},
			"query":    {Type: schema.String, Required: true, Desc: "SQL SELECT query to execute"},
			"limit":    {Type: schema.Integer, Required: false, Desc: "Maximum rows to return (default: 100)"},
		}),
	}, func(ctx context.Context, input *PostgresQueryInput) (string, error) {
		if !isReadOnlyQuery(input.Query, false) {
			return "Error: only SELECT, SHOW, and EXPLAIN queries are allowed", nil
		}

		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}

		db, err := openSQL("postgres", postgresDSN(input.Username, input.Password, input.Host, input.Port, input.Database, input.SSLMode))
		if err != nil {
			return fmt.Sprintf("Error: failed to connect: %v", err), nil
		}
		defer db.Close()

		rows, err := db.QueryContext(ctx, withLimit(input.Query, limit))
		if err != nil {
			return fmt.Sprintf("Error: query failed: %v", err), nil
		}
		defer rows.Close()

		columns, results, err := scanRows(rows)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"database": input.Database,
			"query":    input.Query,
			"columns":  columns,
			"rows":     len(results),
			"data":     results,
		}, "", "  ")
		return string(data), nil
	})
}

type PostgresExecuteInput struct {
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	SSLMode   string `json:"ssl_mode,omitempty"`
	Statement string `json:"statement"`
}

func NewPostgresExecuteTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "postgres_execute",
		Desc: "Execute a SQL statement (INSERT/UPDATE/DELETE) on a PostgreSQL database. Use with caution.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":      {Type: schema.String, Required: true, Desc: "PostgreSQL server host"},
			"port":      {Type: schema.Integer, Required: false, Desc: "PostgreSQL server port (default: 5432)"},
			"database":  {Type: schema.String, Required: true, Desc: "Database name"},
			"username":  {Type: schema.String, Required: true, Desc: "Database username"},
			"password":  {Type: schema.String, Required: false, Desc: "Database password"},
			"ssl_mode":  {Type: schema.String, Required: false, Desc: "SSL mode"},
			"statement": {Type: schema.String, Required: true, Desc: "SQL statement to execute"},
		}),
	}, func(ctx context.Context, input *PostgresExecuteInput) (string, error) {
		db, err := openSQL("postgres", postgresDSN(input.Username, input.Password, input.Host, input.Port, input.Database, input.SSLMode))
		if err != nil {
			return fmt.Sprintf("Error: failed to connect: %v", err), nil
		}
		defer db.Close()

		result, err := db.ExecContext(ctx, input.Statement)
		if err != nil {
			return fmt.Sprintf("Error: statement failed: %v", err), nil
		}

		rowsAffected, _ := result.RowsAffected()

		data, _ := json.MarshalIndent(map[string]any{
			"database":      input.Database,
			"statement":     input.Statement,
			"rows_affected": rowsAffected,
		}, "", "  ")
		return string(data), nil
	})
}

type PostgresSchemaInput struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Table    string `json:"table,omitempty"`
}

func NewPostgresSchemaTool(tc *tools.ToolContext) tool.InvokableTool {
	return utils.NewTool(&schema.ToolInfo{
		Name: "postgres_schema",
		Desc: "Get database schema information from PostgreSQL. Lists tables or describes a specific table's columns.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"host":     {Type: schema.String, Required: true, Desc: "PostgreSQL server host"},
			"port":     {Type: schema.Integer, Required: false, Desc: "PostgreSQL server port (default: 5432)"},
			"database": {Type: schema.String, Required: true, Desc: "Database name"},
			"username": {Type: schema.String, Required: true, Desc: "Database username"},
			"password": {Type: schema.String, Required: false, Desc: "Database password"},
			"ssl_mode": {Type: schema.String, Required: false, Desc: "SSL mode"},
			"schema":   {Type: schema.String, Required: false, Desc: "Schema name (default: public)"},
			"table":    {Type: schema.String, Required: false, Desc: "Table name (if omitted, lists all tables)"},
		}),
	}, func(ctx context.Context, input *PostgresSchemaInput) (string, error) {
		schemaName := input.Schema
		if schemaName == "" {
			schemaName = "public"
		}

		db, err := openSQL("postgres", postgresDSN(input.Username, input.Password, input.Host, input.Port, input.Database, input.SSLMode))
		if err != nil {
			return fmt.Sprintf("Error: failed to connect: %v", err), nil
		}
		defer db.Close()

		var rows *sql.Rows
		if input.Table == "" {
			rows, err = db.QueryContext(ctx,
				`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`,
				schemaName)
		} else {
			rows, err = db.QueryContext(ctx,
				`SELECT column_name, data_type, is_nullable, column_default
				 FROM information_schema.columns
				 WHERE table_schema = $1 AND table_name = $2
				 ORDER BY ordinal_position`,
				schemaName, input.Table)
		}
		if err != nil {
			return fmt.Sprintf("Error: query failed: %v", err), nil
		}
		defer rows.Close()

		_, results, err := scanRows(rows)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"database": input.Database,
			"schema":   schemaName,
			"table":    input.Table,
			"data":     results,
		}, "", "  ")
		return string(data), nil
	})
}
