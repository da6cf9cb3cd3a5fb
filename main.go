/*
Copyright 2025 The l7mp/reflow team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"os"

	"github.com/l7mp/reflow/cmd"
	"github.com/l7mp/reflow/internal/buildinfo"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	info := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	if err := cmd.Execute(info); err != nil {
		os.Exit(1)
	}
}
