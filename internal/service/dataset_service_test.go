package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anno_train_server/internal/dataset"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/testutil"
)

func float(v float64) *float64 { return &v }

func seed(v int64) *int64 { return &v }

func setupDatasetService(t *testing.T) (*DatasetService, *model.Project, *model.Class, func(n int) []*model.Image) {
	t.Helper()
	db := setupDB(t)
	svc := NewDatasetService(
		repository.NewDatasetVersionRepository(db),
		repository.NewImageRepository(db),
		repository.NewProjectRepository(db),
	)
	project := testutil.TestProject(t, db)
	class := testutil.TestClass(t, db, project.ID, "car")
	addImages := func(n int) []*model.Image {
		return testutil.TestAnnotatedImages(t, db, project.ID, class.ID, n)
	}
	return svc, project, class, addImages
}

func TestDatasetService_CreateVersion_Defaults(t *testing.T) {
	svc, project, _, addImages := setupDatasetService(t)
	addImages(10)

	v, err := svc.CreateVersion(project.ID, &dto.CreateVersionRequest{})
	require.NoError(t, err)

	assert.Equal(t, "Version 1", v.Name)
	assert.Equal(t, 0.7, v.TrainSplit)
	assert.Equal(t, 0.2, v.ValSplit)
	assert.Equal(t, 0.1, v.TestSplit)
	assert.Equal(t, 10, v.TotalImages)
	assert.Equal(t, 10, v.TotalAnnotations)

	splits := v.ImageSplits.Data()
	assert.Len(t, splits.Train, 7)
	assert.Len(t, splits.Val, 2)
	assert.Len(t, splits.Test, 1)

	v2, err := svc.CreateVersion(project.ID, &dto.CreateVersionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Version 2", v2.Name)
}

func TestDatasetService_CreateVersion_SeededIsReproducible(t *testing.T) {
	svc, project, _, addImages := setupDatasetService(t)
	addImages(20)

	req := &dto.CreateVersionRequest{Name: "seeded", Seed: seed(42)}
	a, err := svc.CreateVersion(project.ID, req)
	require.NoError(t, err)
	b, err := svc.CreateVersion(project.ID, req)
	require.NoError(t, err)

	assert.Equal(t, a.ImageSplits.Data(), b.ImageSplits.Data())
	require.NotNil(t, a.Seed)
	assert.Equal(t, int64(42), *a.Seed)
}

func TestDatasetService_CreateVersion_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		images   int
		req      *dto.CreateVersionRequest
		wantErr  error
		wantCode int
	}{
		{
			name:     "ratios do not sum to one",
			images:   10,
			req:      &dto.CreateVersionRequest{TrainSplit: float(0.8), ValSplit: float(0.2), TestSplit: float(0.2)},
			wantErr:  dataset.ErrRatioSum,
			wantCode: apperror.CodeValidation,
		},
		{
			name:     "negative ratio",
			images:   10,
			req:      &dto.CreateVersionRequest{TrainSplit: float(1.2), ValSplit: float(-0.1), TestSplit: float(-0.1)},
			wantErr:  dataset.ErrRatioNegative,
			wantCode: apperror.CodeValidation,
		},
		{
			name:     "no annotated images",
			images:   0,
			req:      &dto.CreateVersionRequest{},
			wantErr:  dataset.ErrNoImages,
			wantCode: apperror.CodeInsufficientData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, project, _, addImages := setupDatasetService(t)
			addImages(tt.images)

			v, err := svc.CreateVersion(project.ID, tt.req)
			assert.Nil(t, v)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCode, apperror.CodeOf(err))

			items, err := svc.ListVersions(project.ID)
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

func TestDatasetService_CreateVersion_ProjectNotFound(t *testing.T) {
	svc, _, _, _ := setupDatasetService(t)

	_, err := svc.CreateVersion(9999, &dto.CreateVersionRequest{})
	assert.Equal(t, ErrProjectNotFound, err)
}

func TestDatasetService_ListVersions(t *testing.T) {
	svc, project, _, addImages := setupDatasetService(t)
	addImages(10)

	_, err := svc.CreateVersion(project.ID, &dto.CreateVersionRequest{Name: "first"})
	require.NoError(t, err)
	_, err = svc.CreateVersion(project.ID, &dto.CreateVersionRequest{
		Name:       "second",
		TrainSplit: float(0.5),
		ValSplit:   float(0.3),
		TestSplit:  float(0.2),
	})
	require.NoError(t, err)

	items, err := svc.ListVersions(project.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "second", items[0].Name)
	assert.Equal(t, 5, items[0].TrainCount)
	assert.Equal(t, 3, items[0].ValCount)
	assert.Equal(t, 2, items[0].TestCount)
	assert.Equal(t, "first", items[1].Name)
}

func TestDatasetService_DeleteVersion(t *testing.T) {
	db := setupDB(t)
	svc := NewDatasetService(
		repository.NewDatasetVersionRepository(db),
		repository.NewImageRepository(db),
		repository.NewProjectRepository(db),
	)
	project := testutil.TestProject(t, db)

	used := testutil.TestVersion(t, db, project.ID, model.SplitIDs{Train: []int64{1}})
	testutil.TestJob(t, db, project.ID, testutil.WithVersion(used.ID))
	free := testutil.TestVersion(t, db, project.ID, model.SplitIDs{Train: []int64{1}})

	err := svc.DeleteVersion(used.ID)
	assert.Equal(t, ErrVersionInUse, err)
	assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))
	assert.Equal(t, "Cannot delete version with associated training jobs", apperror.MessageOf(err))

	require.NoError(t, svc.DeleteVersion(free.ID))
	_, err = svc.GetVersion(free.ID)
	assert.Equal(t, ErrVersionNotFound, err)

	assert.Equal(t, ErrVersionNotFound, svc.DeleteVersion(free.ID))
}
