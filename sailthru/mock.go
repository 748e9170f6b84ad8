package sailthru

import "context"

// MockPurchase records the arguments of one Purchase call.
type MockPurchase struct {
	Email      string
	Items      []PurchaseItem
	Options    PurchaseOptions
	Incomplete bool
	MessageID  string
}

// MockUserUpdate records the arguments of one UpdateUser call.
type MockUserUpdate struct {
	Email string
	Vars  map[string]interface{}
}

// MockClient is only used for testing.
type MockClient struct {
	ContentResponses map[string]map[string]interface{}
	ContentErr       error
	ContentCalls     []string

	UserResponse map[string]interface{}
	UserErr      error
	UserCalls    []string

	UpdateUserErr error
	UserUpdates   []MockUserUpdate

	PurchaseErr error
	Purchases   []MockPurchase
}

var _ Client = &MockClient{}

// GetContent returns the canned response for courseID.
func (m *MockClient) GetContent(_ context.Context, courseID string) (map[string]interface{}, error) {
	m.ContentCalls = append(m.ContentCalls, courseID)
	if m.ContentErr != nil {
		return nil, m.ContentErr
	}
	return m.ContentResponses[courseID], nil
}

// GetUser returns the canned user response.
func (m *MockClient) GetUser(_ context.Context, email string) (map[string]interface{}, error) {
	m.UserCalls = append(m.UserCalls, email)
	if m.UserErr != nil {
		return nil, m.UserErr
	}
	return m.UserResponse, nil
}

// UpdateUser records the write.
func (m *MockClient) UpdateUser(_ context.Context, email string, vars map[string]interface{}) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.UserUpdates = append(m.UserUpdates, MockUserUpdate{Email: email, Vars: vars})
	return nil
}

// Purchase records the submission.
func (m *MockClient) Purchase(_ context.Context, email string, items []PurchaseItem, options PurchaseOptions, incomplete bool, messageID string) error {
	if m.PurchaseErr != nil {
		return m.PurchaseErr
	}
	m.Purchases = append(m.Purchases, MockPurchase{
		Email:      email,
		Items:      items,
		Options:    options,
		Incomplete: incomplete,
		MessageID:  messageID,
	})
	return nil
}
