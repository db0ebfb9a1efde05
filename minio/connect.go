// Package minio stores evidence bundles in MinIO (or any S3-compatible store)
// under a content-addressed layout: {hash}/manifest.json plus
// {hash}/blobs/{name}. Bundles are immutable; a hash that already exists is
// never rewritten.
package minio

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	// "http://127.0.0.1:9000"
	HostEndpointUrl string
	// "us-east-1"
	Region   string
	Username string
	Password string
	Bucket   string
}

// Connect to the MinIO server endpoint.
func Connect(config Config) *s3.Client {
	client := s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(config.HostEndpointUrl)
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		// MinIO serves buckets on the path, not as subdomains.
		o.UsePathStyle = true
	})
	return client
}
