/*
Copyright 2024 Blnk Finance Authors.

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

package backups

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/tallyops/tally/config"
)

// BackupManager dumps the reconciliation database with pg_dump and
// optionally ships the dump to S3. Runs and exceptions are the audit
// trail for reconciliation decisions, so operators back them up on a
// schedule even when source files already live in object storage.
type BackupManager struct {
	Config   *config.Configuration
	S3Client *s3.S3
}

// NewBackupManager builds a manager from the current configuration. The
// S3 client is lazy; it is only created when a backup is uploaded.
func NewBackupManager() (*BackupManager, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &BackupManager{Config: conf}, nil
}

// BackupToDisk writes a pg_dump of the configured database to a dated
// directory under BackupDir and returns the dump's path. Requires
// pg_dump on PATH.
func (bm *BackupManager) BackupToDisk(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	db, err := sql.Open("postgres", bm.Config.DataSource.Dns)
	if err != nil {
		return "", fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("failed to ping database: %w", err)
	}

	var dbSize string
	err = db.QueryRowContext(ctx, "SELECT pg_size_pretty(pg_database_size(current_database()))").Scan(&dbSize)
	if err != nil {
		return "", fmt.Errorf("failed to read database size: %w", err)
	}
	logSize(dbSize)

	today := time.Now().Format("2006-01-02")
	currentTime := time.Now().Format("150405")
	backupDir := filepath.Join(bm.Config.BackupDir, today)

	if err := os.MkdirAll(backupDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	parsedURL, err := url.Parse(bm.Config.DataSource.Dns)
	if err != nil {
		return "", fmt.Errorf("failed to parse database dsn: %w", err)
	}

	dbUser := parsedURL.User.Username()
	dbPassword, _ := parsedURL.User.Password()
	dbHost, dbPort, err := net.SplitHostPort(parsedURL.Host)
	if err != nil {
		return "", fmt.Errorf("failed to parse database host: %w", err)
	}
	dbName := strings.TrimPrefix(parsedURL.Path, "/")
	if dbName == "" {
		dbName = "tally"
	}

	backupFilePath := filepath.Join(backupDir, fmt.Sprintf("tally-%s-backup.sql", currentTime))
	cmd := exec.CommandContext(ctx, "pg_dump", "-U", dbUser, "-d", dbName, "-f", backupFilePath)
	cmd.Env = append(os.Environ(), "PGHOST="+dbHost, "PGPORT="+dbPort, "PGUSER="+dbUser, "PGPASSWORD="+dbPassword)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pg_dump failed: %w: %s", err, stderr.String())
	}

	return backupFilePath, nil
}

// BackupToS3 dumps the database to disk, zips the dated backup
// directory and uploads the archive to the configured bucket. The
// local zip is removed after a successful upload; the dump itself is
// kept.
func (bm *BackupManager) BackupToS3(ctx context.Context) error {
	dumpPath, err := bm.BackupToDisk(ctx)
	if err != nil {
		return fmt.Errorf("failed to backup to disk: %w", err)
	}

	dirToZip := filepath.Dir(dumpPath)
	zipFile := filepath.Base(dirToZip) + ".zip"

	if err := zipDir(dirToZip, zipFile); err != nil {
		return fmt.Errorf("failed to zip backup: %w", err)
	}

	if err := bm.upload(zipFile, bm.Config.S3.BucketName, zipFile); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	if err := os.Remove(zipFile); err != nil {
		return fmt.Errorf("failed to remove local archive: %w", err)
	}

	return nil
}

func (bm *BackupManager) upload(filePath, bucketName, itemKey string) error {
	if bm.S3Client == nil {
		awsConfig := &aws.Config{
			Region:      aws.String(bm.Config.S3.Region),
			Credentials: credentials.NewStaticCredentials(bm.Config.S3.AccessKeyId, bm.Config.S3.SecretAccessKey, ""),
		}
		if bm.Config.S3.Endpoint != "" {
			awsConfig.Endpoint = aws.String(bm.Config.S3.Endpoint)
			awsConfig.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return err
		}
		bm.S3Client = s3.New(sess)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = bm.S3Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(itemKey),
		Body:   file,
	})
	return err
}

func zipDir(srcDir, destZip string) error {
	zipFile, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	writer := zip.NewWriter(zipFile)
	defer writer.Close()

	return filepath.Walk(srcDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		relPath := filePath[len(srcDir)+1:]
		zipFileWriter, err := writer.Create(relPath)
		if err != nil {
			return err
		}

		srcFile, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer srcFile.Close()

		_, err = io.Copy(zipFileWriter, srcFile)
		return err
	})
}

func logSize(dbSize string) {
	fmt.Printf("Database size: %s\n", dbSize)
}
