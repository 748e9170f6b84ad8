package enrollsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseops/commerce-sync/sailthru"
)

const (
	testEmail     = "test@example.com"
	testCourseURL = "http://lms.testserver.fake/courses/edX/toy/2012_Fall/info"
)

func newTestProcessor(t *testing.T, client sailthru.Client) *Processor {
	settings, err := NewSiteSettings(baseSettingsConfig())
	require.NoError(t, err)
	return New(testLogger(), client, settings)
}

func userWithUnenrolled(urls ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"vars": map[string]interface{}{"unenrolled": urls},
	}
}

func TestUnenrollAppends(t *testing.T) {
	mock := &sailthru.MockClient{UserResponse: userWithUnenrolled("course_u1")}
	p := newTestProcessor(t, mock)

	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, false)
	assert.True(t, ok)
	require.Len(t, mock.UserUpdates, 1)
	assert.Equal(t, testEmail, mock.UserUpdates[0].Email)
	assert.Equal(t, map[string]interface{}{
		"unenrolled": []string{"course_u1", testCourseURL},
	}, mock.UserUpdates[0].Vars)
}

func TestUnenrollIdempotent(t *testing.T) {
	mock := &sailthru.MockClient{UserResponse: userWithUnenrolled(testCourseURL)}
	p := newTestProcessor(t, mock)

	// Already present: no write at all.
	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, false)
	assert.True(t, ok)
	assert.Empty(t, mock.UserUpdates)
}

func TestReenrollRemoves(t *testing.T) {
	mock := &sailthru.MockClient{UserResponse: userWithUnenrolled(testCourseURL)}
	p := newTestProcessor(t, mock)

	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, true)
	assert.True(t, ok)
	require.Len(t, mock.UserUpdates, 1)
	assert.Equal(t, map[string]interface{}{
		"unenrolled": []string{},
	}, mock.UserUpdates[0].Vars)
}

func TestReenrollKeepsOtherCourses(t *testing.T) {
	mock := &sailthru.MockClient{UserResponse: userWithUnenrolled("course_u1", testCourseURL, "course_u2")}
	p := newTestProcessor(t, mock)

	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, true)
	assert.True(t, ok)
	require.Len(t, mock.UserUpdates, 1)
	assert.Equal(t, map[string]interface{}{
		"unenrolled": []string{"course_u1", "course_u2"},
	}, mock.UserUpdates[0].Vars)
}

func TestEnrollAbsentIsNoop(t *testing.T) {
	mock := &sailthru.MockClient{UserResponse: userWithUnenrolled("course_u1")}
	p := newTestProcessor(t, mock)

	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, true)
	assert.True(t, ok)
	assert.Empty(t, mock.UserUpdates)
}

func TestReadErrorRetryable(t *testing.T) {
	mock := &sailthru.MockClient{
		UserErr: &sailthru.APIError{Action: "user", Code: sailthru.ErrCodeRateLimit, Msg: "rate limited"},
	}
	p := newTestProcessor(t, mock)

	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, false)
	assert.False(t, ok, "a retryable read error must surface as please-retry")
	assert.Empty(t, mock.UserUpdates)
}

func TestReadErrorTerminal(t *testing.T) {
	mock := &sailthru.MockClient{
		UserErr: &sailthru.APIError{Action: "user", Code: 1, Msg: "unknown user"},
	}
	p := newTestProcessor(t, mock)

	// Terminal read errors are tolerated: the user has no list, and for an
	// enrollment there is then nothing to write.
	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, true)
	assert.True(t, ok)
	assert.Empty(t, mock.UserUpdates)

	// For an unenrollment the write still happens, against the empty list.
	ok = p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, false)
	assert.True(t, ok)
	require.Len(t, mock.UserUpdates, 1)
	assert.Equal(t, map[string]interface{}{
		"unenrolled": []string{testCourseURL},
	}, mock.UserUpdates[0].Vars)
}

func TestReadErrorTransport(t *testing.T) {
	mock := &sailthru.MockClient{UserErr: assert.AnError}
	p := newTestProcessor(t, mock)

	ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, false)
	assert.False(t, ok)
	assert.Empty(t, mock.UserUpdates)
}

func TestWriteErrorNeverSucceeds(t *testing.T) {
	for _, writeErr := range []error{
		&sailthru.APIError{Action: "user", Code: sailthru.ErrCodeInternalError, Msg: "retry later"},
		&sailthru.APIError{Action: "user", Code: 9999, Msg: "validation failed"},
		assert.AnError,
	} {
		mock := &sailthru.MockClient{
			UserResponse:  userWithUnenrolled(testCourseURL),
			UpdateUserErr: writeErr,
		}
		p := newTestProcessor(t, mock)

		ok := p.syncUnenrolledList(context.Background(), testEmail, testCourseURL, true)
		assert.False(t, ok, "write error %v must not report success", writeErr)
	}
}
