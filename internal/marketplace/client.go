// Package marketplace adapts the crowd-labor marketplace API (Amazon
// Mechanical Turk) to the small set of calls the pipeline makes.
package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/mturk"
	"github.com/aws/aws-sdk-go-v2/service/mturk/types"
	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/shopspring/decimal"
)

const (
	productionEndpoint = "https://mturk-requester.us-east-1.amazonaws.com"
	sandboxEndpoint    = "https://mturk-requester-sandbox.us-east-1.amazonaws.com"
	region             = "us-east-1"

	notificationVersion = "2006-05-05"
)

var ErrIncompleteResponse = errors.New("marketplace response missing required fields")

type Config struct {
	AccessKey string
	SecretKey string
	Sandbox   bool
	// Endpoint overrides the production/sandbox endpoint, mainly for tests.
	Endpoint string
}

// api is the subset of *mturk.Client the adapter calls.
type api interface {
	GetAccountBalance(ctx context.Context, in *mturk.GetAccountBalanceInput, optFns ...func(*mturk.Options)) (*mturk.GetAccountBalanceOutput, error)
	CreateHIT(ctx context.Context, in *mturk.CreateHITInput, optFns ...func(*mturk.Options)) (*mturk.CreateHITOutput, error)
	GetHIT(ctx context.Context, in *mturk.GetHITInput, optFns ...func(*mturk.Options)) (*mturk.GetHITOutput, error)
	GetAssignment(ctx context.Context, in *mturk.GetAssignmentInput, optFns ...func(*mturk.Options)) (*mturk.GetAssignmentOutput, error)
	UpdateNotificationSettings(ctx context.Context, in *mturk.UpdateNotificationSettingsInput, optFns ...func(*mturk.Options)) (*mturk.UpdateNotificationSettingsOutput, error)
}

type Client struct {
	api api
}

// New builds a client with static credentials. The SDK's own retryer and
// timeouts apply to every call.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("marketplace credentials are not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = productionEndpoint
		if cfg.Sandbox {
			endpoint = sandboxEndpoint
		}
	}

	c := mturk.NewFromConfig(awsCfg, func(o *mturk.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &Client{api: c}, nil
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	out, err := c.api.GetAccountBalance(ctx, &mturk.GetAccountBalanceInput{})
	if err != nil {
		return decimal.Zero, err
	}
	if out.AvailableBalance == nil {
		return decimal.Zero, ErrIncompleteResponse
	}
	return decimal.NewFromString(*out.AvailableBalance)
}

func (c *Client) CreateWorkItem(ctx context.Context, req task.CreateRequest) (task.WorkItem, error) {
	out, err := c.api.CreateHIT(ctx, createHITInput(req))
	if err != nil {
		return task.WorkItem{}, err
	}
	return workItemOf(out.HIT)
}

func (c *Client) GetWorkItem(ctx context.Context, id string) (task.WorkItem, error) {
	out, err := c.api.GetHIT(ctx, &mturk.GetHITInput{HITId: aws.String(id)})
	if err != nil {
		return task.WorkItem{}, err
	}
	return workItemOf(out.HIT)
}

func (c *Client) GetAssignment(ctx context.Context, assignmentID string) (task.Assignment, error) {
	out, err := c.api.GetAssignment(ctx, &mturk.GetAssignmentInput{AssignmentId: aws.String(assignmentID)})
	if err != nil {
		return task.Assignment{}, err
	}
	a := out.Assignment
	if a == nil || a.HITId == nil {
		return task.Assignment{}, ErrIncompleteResponse
	}
	return task.Assignment{
		ID:         aws.ToString(a.AssignmentId),
		WorkItemID: aws.ToString(a.HITId),
		WorkerID:   aws.ToString(a.WorkerId),
		AnswerXML:  aws.ToString(a.Answer),
	}, nil
}

// SetNotification points the type's notifications at destination. The call
// overwrites any earlier setting, so repeating it is harmless.
func (c *Client) SetNotification(ctx context.Context, typeID, destination string, eventTypes []string) error {
	events := make([]types.EventType, 0, len(eventTypes))
	for _, e := range eventTypes {
		events = append(events, types.EventType(e))
	}

	_, err := c.api.UpdateNotificationSettings(ctx, &mturk.UpdateNotificationSettingsInput{
		HITTypeId: aws.String(typeID),
		Active:    aws.Bool(true),
		Notification: &types.NotificationSpecification{
			Destination: aws.String(destination),
			Transport:   types.NotificationTransportSqs,
			Version:     aws.String(notificationVersion),
			EventTypes:  events,
		},
	})
	return err
}

func createHITInput(req task.CreateRequest) *mturk.CreateHITInput {
	t := req.Template

	params := make([]types.HITLayoutParameter, 0, len(req.Params))
	for _, p := range req.Params {
		params = append(params, types.HITLayoutParameter{
			Name:  aws.String(p.Name),
			Value: aws.String(p.Value),
		})
	}

	in := &mturk.CreateHITInput{
		Title:                       aws.String(t.Title),
		Description:                 aws.String(t.Description),
		Reward:                      aws.String(t.Reward.StringFixed(2)),
		MaxAssignments:              aws.Int32(t.MaxAssignments),
		AssignmentDurationInSeconds: aws.Int64(t.AssignmentDurationInSeconds),
		LifetimeInSeconds:           aws.Int64(t.LifetimeInSeconds),
		HITLayoutId:                 aws.String(req.LayoutID),
		HITLayoutParameters:         params,
	}
	if t.Keywords != "" {
		in.Keywords = aws.String(t.Keywords)
	}
	if t.AutoApprovalDelayInSeconds > 0 {
		in.AutoApprovalDelayInSeconds = aws.Int64(t.AutoApprovalDelayInSeconds)
	}
	if t.RequesterAnnotation != "" {
		in.RequesterAnnotation = aws.String(t.RequesterAnnotation)
	}
	return in
}

func workItemOf(h *types.HIT) (task.WorkItem, error) {
	if h == nil || h.HITId == nil {
		return task.WorkItem{}, ErrIncompleteResponse
	}
	return task.WorkItem{ID: aws.ToString(h.HITId), TypeID: aws.ToString(h.HITTypeId)}, nil
}
