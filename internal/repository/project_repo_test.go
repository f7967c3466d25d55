package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/testutil"
)

func TestProjectRepository_Delete_Cascades(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewProjectRepository(db)
	project := testutil.TestProject(t, db)
	keep := testutil.TestProject(t, db)

	class := testutil.TestClass(t, db, project.ID, "car")
	testutil.TestAnnotatedImages(t, db, project.ID, class.ID, 2)
	version := testutil.TestVersion(t, db, project.ID, model.SplitIDs{Train: []int64{1}})
	testutil.TestJob(t, db, project.ID, testutil.WithVersion(version.ID))

	keepClass := testutil.TestClass(t, db, keep.ID, "dog")
	testutil.TestAnnotatedImages(t, db, keep.ID, keepClass.ID, 1)

	require.NoError(t, repo.Delete(project.ID))

	_, err := repo.GetByID(project.ID)
	assert.Error(t, err)

	for _, m := range []interface{}{&model.Class{}, &model.Image{}, &model.DatasetVersion{}, &model.TrainingJob{}} {
		var count int64
		db.Model(m).Where("project_id = ?", project.ID).Count(&count)
		assert.Zero(t, count)
	}

	var anns int64
	db.Model(&model.Annotation{}).Count(&anns)
	assert.Equal(t, int64(1), anns)
}
