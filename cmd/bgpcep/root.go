// Copyright (C) 2014-2024 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kr/pretty"
	"github.com/spf13/cobra"

	"github.com/osrg/bgpcep/internal/pkg/version"
	"github.com/osrg/bgpcep/pkg/log"
)

var globalOpts struct {
	Json  bool
	Debug bool
}

func newRootCmd() *cobra.Command {
	cobra.EnablePrefixMatching = true

	rootCmd := &cobra.Command{
		Use:           "bgpcep",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.HelpFunc()(cmd, args)
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Json, "json", "j", false, "use json format to output format")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.Debug, "debug", "d", false, "use debug")

	versionCmd := &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "bgpcep version", version.Version())
		},
	}
	rootCmd.AddCommand(newDecodeCmd(), newRegistryCmd(), versionCmd)
	return rootCmd
}

func newLogger() log.Logger {
	l := log.NewDefaultLogger()
	if globalOpts.Debug {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.WarnLevel)
	}
	return l
}

func output(w io.Writer, v any) error {
	if globalOpts.Json {
		j, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(j))
		return err
	}
	_, err := fmt.Fprintf(w, "%# v\n", pretty.Formatter(v))
	return err
}
