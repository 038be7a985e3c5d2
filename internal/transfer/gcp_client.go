package transfer

import (
	"context"
	"encoding/json"

	storagetransfer "cloud.google.com/go/storagetransfer/apiv1"
	"cloud.google.com/go/storagetransfer/apiv1/storagetransferpb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gcpClient adapts the real Storage Transfer Service client to the
// Orchestrator's narrow client interface.
type gcpClient struct {
	raw *storagetransfer.Client
}

// NewGCPClient dials the Storage Transfer Service using ambient application
// default credentials.
func NewGCPClient(ctx context.Context) (*gcpClient, error) {
	c, err := storagetransfer.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &gcpClient{raw: c}, nil
}

func (g *gcpClient) CreateTransferJob(ctx context.Context, spec JobSpec) error {
	_, err := g.raw.CreateTransferJob(ctx, &storagetransferpb.CreateTransferJobRequest{
		TransferJob: &storagetransferpb.TransferJob{
			Name:        spec.Name,
			Description: spec.Description,
			ProjectId:   spec.ProjectID,
			Status:      storagetransferpb.TransferJob_ENABLED,
			TransferSpec: &storagetransferpb.TransferSpec{
				DataSource: &storagetransferpb.TransferSpec_AwsS3DataSource{
					AwsS3DataSource: &storagetransferpb.AwsS3Data{
						BucketName: spec.SourceBucket,
						AwsAccessKey: &storagetransferpb.AwsAccessKey{
							AccessKeyId:     spec.AWSAccessKeyID,
							SecretAccessKey: spec.AWSSecretAccessKey,
						},
						Path: spec.SourcePath,
					},
				},
				DataSink: &storagetransferpb.TransferSpec_GcsDataSink{
					GcsDataSink: &storagetransferpb.GcsData{
						BucketName: spec.DestBucket,
						Path:       spec.DestPath,
					},
				},
				TransferOptions: &storagetransferpb.TransferOptions{
					OverwriteObjectsAlreadyExistingInSink: false,
				},
			},
		},
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (g *gcpClient) IsJobDone(ctx context.Context, jobName, projectID string) (bool, error) {
	filter, err := json.Marshal(map[string]any{
		"project_id": projectID,
		"job_names":  []string{jobName},
	})
	if err != nil {
		return false, err
	}

	it := g.raw.ListTransferOperations(ctx, &storagetransferpb.ListTransferOperationsRequest{
		Name:   "transferOperations",
		Filter: string(filter),
	})
	op, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return op.GetDone(), nil
}
