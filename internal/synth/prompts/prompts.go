package prompts

import "embed"

//go:embed *.md
var FS embed.FS
