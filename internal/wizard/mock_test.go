package wizard

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/audience-cli/internal/model"
)

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Calculate(ctx context.Context, sourceID, sizeMethodID string) (*model.CalculateResult, error) {
	args := m.Called(ctx, sourceID, sizeMethodID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CalculateResult), args.Error(1)
}

func (m *mockGateway) Submit(ctx context.Context, req model.AudienceRequest) (*model.JobDescriptor, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobDescriptor), args.Error(1)
}

// --- Catalog Fake ---

type fakeCatalog map[string]model.Source

func (c fakeCatalog) GetSource(_ context.Context, id string) (*model.Source, error) {
	src, ok := c[id]
	if !ok {
		return nil, eris.Errorf("source not found: %s", id)
	}
	return &src, nil
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"src-1":     {ID: "src-1", Name: "Newsletter buyers", MatchedRecords: 1200, NumberOfCustomers: 1500},
		"src-2":     {ID: "src-2", Name: "Holiday promo", MatchedRecords: 800, NumberOfCustomers: 900},
		"src-empty": {ID: "src-empty", Name: "Unmatched upload", MatchedRecords: 0, NumberOfCustomers: 300},
	}
}

func scenarioResult() *model.CalculateResult {
	return &model.CalculateResult{Categories: []model.FeatureCategory{
		{Name: "Personal", Entries: []model.FeatureImportance{{Key: "age", Importance: 0.4}, {Key: "gender", Importance: 0.1}}},
		{Name: "Financial", Entries: []model.FeatureImportance{{Key: "income", Importance: 0.6}}},
	}}
}

var testSizeMethods = []model.SizeMethod{
	{ID: "1pct-precise", Label: "1% precise", Size: 1, Method: "precise"},
	{ID: "5pct-broad", Label: "5% broad", Size: 5, Method: "broad"},
}
