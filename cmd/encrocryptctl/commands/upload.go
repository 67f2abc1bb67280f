package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	uploadBucket string
	uploadKey    string
	uploadRegion string
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a finished EncroCrypt container to object storage",
	Long: `Ships a completed container file to S3 or an S3-compatible store,
replacing the original source's FTP-based transfer loop with a single
PutObject call.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadBucket, "bucket", "", "destination bucket name")
	uploadCmd.Flags().StringVar(&uploadKey, "key", "", "destination object key (default: the file's base name)")
	uploadCmd.Flags().StringVar(&uploadRegion, "region", "us-east-1", "AWS region")
	_ = uploadCmd.MarkFlagRequired("bucket")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	key := uploadKey
	if key == "" {
		key = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("encrocryptctl: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(uploadRegion))
	if err != nil {
		return fmt.Errorf("encrocryptctl: failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(uploadBucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("encrocryptctl: upload failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{"bucket": uploadBucket, "key": key, "file": path}).Info("uploaded container")
	return nil
}
