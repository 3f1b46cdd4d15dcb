// Package all imports and initializes all built-in tools.
// Import this package to register all tools.
package all

import (
	// Import all tool packages to trigger their init() functions
	_ "github.com/opsloom/opsloom/pkg/tools/backup"
	_ "github.com/opsloom/opsloom/pkg/tools/database"
	_ "github.com/opsloom/opsloom/pkg/tools/docker"
	_ "github.com/opsloom/opsloom/pkg/tools/exec"
	_ "github.com/opsloom/opsloom/pkg/tools/files"
	_ "github.com/opsloom/opsloom/pkg/tools/research"
	_ "github.com/opsloom/opsloom/pkg/tools/webserver"
)
