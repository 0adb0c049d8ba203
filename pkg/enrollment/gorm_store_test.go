package enrollment

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/memberhub/accessd/pkg/model"
)

type GormStoreSuite struct {
	suite.Suite
	DB    *gorm.DB
	mock  sqlmock.Sqlmock
	store *GormStore
}

func (s *GormStoreSuite) SetupTest() {
	var (
		db  *sql.DB
		err error
	)

	// Regexp matching keeps the expectations stable across harmless SQL
	// formatting differences.
	db, s.mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(s.T(), err)

	s.DB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(s.T(), err)

	s.store = NewGormStore(s.DB)
}

func (s *GormStoreSuite) TearDownTest() {
	require.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func TestGormStore(t *testing.T) {
	suite.Run(t, new(GormStoreSuite))
}

func enrollmentColumns() []string {
	return []string{"id", "user_id", "portal_id", "is_active", "permissions", "version", "enrolled_at", "enrolled_by"}
}

func enrollmentRow(id, userID, portalID string, version int64, permJSON string) *sqlmock.Rows {
	return sqlmock.NewRows(enrollmentColumns()).
		AddRow(id, userID, portalID, true, []byte(permJSON), version, time.Now().UTC(), "admin")
}

func (s *GormStoreSuite) TestUpsertInsertsOnConflict() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(`INSERT INTO "enrollments" .*ON CONFLICT \("user_id","portal_id"\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()
	s.mock.ExpectQuery(`SELECT \* FROM "enrollments" WHERE user_id = \$1 AND portal_id = \$2`).
		WithArgs("u1", "p1").
		WillReturnRows(enrollmentRow("e1", "u1", "p1", 2,
			`{"accessAllModules":true,"allowedModules":[],"allowedContents":[]}`))

	e, err := s.store.Upsert(context.Background(), "u1", "p1", model.DefaultPermission(), "admin")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "e1", e.ID)
	assert.Equal(s.T(), int64(2), e.Version)
	assert.True(s.T(), e.Permissions.AccessAllModules)
}

func (s *GormStoreSuite) TestRevokeDeletesRow() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(`DELETE FROM "enrollments" WHERE user_id = \$1 AND portal_id = \$2`).
		WithArgs("u1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	require.NoError(s.T(), s.store.Revoke(context.Background(), "u1", "p1"))
}

func (s *GormStoreSuite) TestRevokeMissingRowIsNotFound() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(`DELETE FROM "enrollments"`).
		WithArgs("u1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()

	err := s.store.Revoke(context.Background(), "u1", "p1")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *GormStoreSuite) TestGetNotFound() {
	s.mock.ExpectQuery(`SELECT \* FROM "enrollments"`).
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows(enrollmentColumns()))

	_, err := s.store.Get(context.Background(), "u1", "p1")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *GormStoreSuite) TestListByUserScansPermissions() {
	rows := enrollmentRow("e1", "u1", "p1", 1,
		`{"accessAllModules":false,"allowedModules":["m1"],"allowedContents":["c5"]}`)
	s.mock.ExpectQuery(`SELECT \* FROM "enrollments" WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(rows)

	list, err := s.store.ListByUser(context.Background(), "u1")
	require.NoError(s.T(), err)
	require.Len(s.T(), list, 1)
	assert.Equal(s.T(), []string{"m1"}, list[0].Permissions.AllowedModules)
	assert.True(s.T(), list[0].Permissions.HasContent("c5"))
}

func (s *GormStoreSuite) TestMutateLocksRowAndBumpsVersion() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT \* FROM "enrollments" WHERE user_id = \$1 AND portal_id = \$2 .*FOR UPDATE`).
		WithArgs("u1", "p1").
		WillReturnRows(enrollmentRow("e1", "u1", "p1", 3,
			`{"accessAllModules":false,"allowedModules":["m1"],"allowedContents":[]}`))
	s.mock.ExpectExec(`UPDATE "enrollments" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	e, err := s.store.Mutate(context.Background(), "u1", "p1", []SetMutation{
		{Op: SetAdd, Field: FieldAllowedModules, ID: "m2"},
		{Op: SetRemove, Field: FieldAllowedModules, ID: "m1"},
		{Op: SetAdd, Field: FieldAllowedContents, ID: "c1"},
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []string{"m2"}, e.Permissions.AllowedModules)
	assert.Equal(s.T(), []string{"c1"}, e.Permissions.AllowedContents)
	assert.Equal(s.T(), int64(4), e.Version)
}

func (s *GormStoreSuite) TestMutateMissingEnrollment() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT \* FROM "enrollments"`).
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows(enrollmentColumns()))
	s.mock.ExpectRollback()

	_, err := s.store.Mutate(context.Background(), "u1", "p1", []SetMutation{
		{Op: SetAdd, Field: FieldAllowedModules, ID: "m1"},
	})
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *GormStoreSuite) TestGuardedUpsertRejectsStaleVersion() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT \* FROM "enrollments" .*FOR UPDATE`).
		WithArgs("u1", "p1").
		WillReturnRows(enrollmentRow("e1", "u1", "p1", 5,
			`{"accessAllModules":true,"allowedModules":[],"allowedContents":[]}`))
	s.mock.ExpectRollback()

	results := s.store.ApplyBatch(context.Background(), []BatchOp{{
		Kind:            OpUpsert,
		UserID:          "u1",
		PortalID:        "p1",
		Permission:      model.DefaultPermission(),
		EnrolledBy:      "admin",
		ExpectedVersion: 2,
	}})

	require.Len(s.T(), results, 1)
	assert.ErrorIs(s.T(), results[0].Err, ErrConflict)
}

func (s *GormStoreSuite) TestApplyBatchReportsPerRowFailures() {
	// First row succeeds.
	s.mock.ExpectBegin()
	s.mock.ExpectExec(`DELETE FROM "enrollments"`).
		WithArgs("u1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()
	// Second row fails; the first stays applied.
	s.mock.ExpectBegin()
	s.mock.ExpectExec(`DELETE FROM "enrollments"`).
		WithArgs("u2", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()

	results := s.store.ApplyBatch(context.Background(), []BatchOp{
		{Kind: OpRevoke, UserID: "u1", PortalID: "p1"},
		{Kind: OpRevoke, UserID: "u2", PortalID: "p1"},
	})

	require.Len(s.T(), results, 2)
	assert.NoError(s.T(), results[0].Err)
	assert.ErrorIs(s.T(), results[1].Err, ErrNotFound)
}

func TestSetMutationApplyIsIdempotent(t *testing.T) {
	p := model.Permission{AllowedModules: []string{"m1"}, AllowedContents: []string{}}

	add := SetMutation{Op: SetAdd, Field: FieldAllowedModules, ID: "m1"}
	add.Apply(&p)
	add.Apply(&p)
	assert.Equal(t, []string{"m1"}, p.AllowedModules)

	rm := SetMutation{Op: SetRemove, Field: FieldAllowedModules, ID: "m9"}
	rm.Apply(&p)
	assert.Equal(t, []string{"m1"}, p.AllowedModules)
}
