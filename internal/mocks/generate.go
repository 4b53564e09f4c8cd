// Package mocks provides mock implementations of the recordflow repository ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), model.JobKindImport, id).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, Update, AppendAudit, Heartbeat, ListPending, List, ListByRecord,
// CountActive, Stats, ListExpiredLeases, WaitForNotification
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/recordflow/internal/core JobRepository

// Generate mock for ReaperLocker interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_locker_mock.go github.com/target/recordflow/internal/core ReaperLocker

// Generate mock for OrganizationRepository interface from internal/core package.
// This creates MockOrganizationRepository with methods: Create, GetByID
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=organization_repository_mock.go github.com/target/recordflow/internal/core OrganizationRepository

// Generate mock for MedicalRecordRepository interface from internal/core package.
// This creates MockMedicalRecordRepository with methods: GetByID, Insert, InsertBatch, ListByOrganization
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=medical_record_repository_mock.go github.com/target/recordflow/internal/core MedicalRecordRepository

// Generate mock for EventPublisher interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=event_publisher_mock.go github.com/target/recordflow/internal/core EventPublisher

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods: Set, SetIfNewer, Get, Delete, DeleteByPrefix, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/recordflow/internal/core CacheRepository
