package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/safe-notify/internal/task"
)

type fakeClient struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeClient) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSender_Send(t *testing.T) {
	client := &fakeClient{}
	s := newSender(client, "alerts@example.com", nil)

	err := s.Send(context.Background(), task.Message{
		To:      "ops@example.com",
		Subject: "[Safe-Notify] ticket_escalated (TICKET-1)",
		Body:    "TaskID: abc\n",
	})
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "alerts@example.com", aws.ToString(client.input.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "[Safe-Notify] ticket_escalated (TICKET-1)", aws.ToString(client.input.Content.Simple.Subject.Data))
	assert.Equal(t, "TaskID: abc\n", aws.ToString(client.input.Content.Simple.Body.Text.Data))
}

func TestSender_SendError(t *testing.T) {
	cause := errors.New("throttled")
	s := newSender(&fakeClient{err: cause}, "alerts@example.com", nil)

	err := s.Send(context.Background(), task.Message{To: "ops@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ses send email")
}

func TestNewSender_RequiresFromAddress(t *testing.T) {
	_, err := NewSender(context.Background(), Config{Region: "us-east-1"}, nil)
	assert.ErrorIs(t, err, ErrMissingFromAddress)
}
