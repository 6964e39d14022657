/*
main.go

Copyright © 2025 Code Monkey Cybersecurity
Contact: git@cybermonkey.net.au

This file is part of Warden.

This software is dual-licensed under the Do No Harm License
and the GNU Affero General Public License v3 (AGPL-3.0-or-later).
You may use, modify, and distribute it under the terms of either license.

See LICENSE.agpl and LICENSE.dnh for full details.
*/
package main

import (
	"github.com/CodeMonkeyCybersecurity/warden/cmd"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/fault"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
)

func main() {
	log := logger.NewFallback("warden", record.WARNING)
	log.ReplaceGlobals()
	fault.New(log.Zap(), nil).Install()

	fault.Main(cmd.Execute)
}
