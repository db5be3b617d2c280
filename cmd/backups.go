/*
Copyright 2025 Tally Authors.

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
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	backups "github.com/tallyops/tally/internal/pg-backups"
)

func backupCommands(_ *tallyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "back up the tally database",
	}

	cmd.AddCommand(backupToCommands())
	cmd.AddCommand(backupToS3Commands())

	return cmd
}

func backupToCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "drive",
		Run: func(cmd *cobra.Command, args []string) {
			bm, err := backups.NewBackupManager()
			if err != nil {
				logrus.Error(err)
				return
			}
			path, err := bm.BackupToDisk(cmd.Context())
			if err != nil {
				logrus.Error(err)
				return
			}
			logrus.Infof("backup written to %s", path)
		},
	}

	return cmd
}

func backupToS3Commands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "s3",
		Run: func(cmd *cobra.Command, args []string) {
			bm, err := backups.NewBackupManager()
			if err != nil {
				logrus.Error(err)
				return
			}
			if err := bm.BackupToS3(cmd.Context()); err != nil {
				logrus.Error(err)
				return
			}
		},
	}

	return cmd
}
