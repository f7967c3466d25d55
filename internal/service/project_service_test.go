package service

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/testutil"
)

func setupProjectService(t *testing.T) (*ProjectService, *gorm.DB, string, string) {
	t.Helper()
	db := setupDB(t)
	datasetsDir, runsDir := t.TempDir(), t.TempDir()
	svc := NewProjectService(
		repository.NewProjectRepository(db),
		repository.NewClassRepository(db),
		repository.NewImageRepository(db),
		repository.NewCustomModelRepository(db),
		datasetsDir,
		runsDir,
	)
	return svc, db, datasetsDir, runsDir
}

func TestProjectService_CreateAndGet(t *testing.T) {
	svc, db, _, _ := setupProjectService(t)

	project, err := svc.Create(&dto.CreateProjectRequest{
		Name: "Traffic",
		Classes: []dto.ClassInput{
			{Name: "car", Color: "#00FF00"},
			{Name: "bus"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "detection", project.ProjectType)

	classes, err := repository.NewClassRepository(db).ListByProject(project.ID)
	require.NoError(t, err)
	testutil.TestAnnotatedImages(t, db, project.ID, classes[0].ID, 3)
	testutil.TestImage(t, db, project.ID)

	detail, err := svc.Get(project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Traffic", detail.Name)
	require.Len(t, detail.Classes, 2)
	assert.Equal(t, "car", detail.Classes[0].Name)
	assert.Equal(t, "#00FF00", detail.Classes[0].Color)
	assert.Equal(t, defaultClassColor, detail.Classes[1].Color)
	assert.Equal(t, 4, detail.ImageCount)
	assert.Equal(t, 3, detail.AnnotatedImages)
}

func TestProjectService_Create_RequiresName(t *testing.T) {
	svc, _, _, _ := setupProjectService(t)

	_, err := svc.Create(&dto.CreateProjectRequest{})
	assert.Error(t, err)
}

func TestProjectService_Get_NotFound(t *testing.T) {
	svc, _, _, _ := setupProjectService(t)

	_, err := svc.Get(9999)
	assert.Equal(t, ErrProjectNotFound, err)
}

func TestProjectService_Delete(t *testing.T) {
	svc, db, datasetsDir, runsDir := setupProjectService(t)
	project := testutil.TestProject(t, db)
	class := testutil.TestClass(t, db, project.ID, "car")

	src := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o644))
	img := testutil.TestImage(t, db, project.ID, testutil.WithFilepath(src))
	testutil.TestAnnotation(t, db, img.ID, class.ID)
	// 文件已不存在的图片不影响删除
	testutil.TestImage(t, db, project.ID, testutil.WithFilepath(filepath.Join(t.TempDir(), "gone.jpg")))
	testutil.TestJob(t, db, project.ID, testutil.WithJobStatus(model.JobStatusCompleted))

	projectDirs := []string{
		filepath.Join(datasetsDir, fmt.Sprint(project.ID)),
		filepath.Join(runsDir, fmt.Sprint(project.ID)),
	}
	for _, dir := range projectDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "job_1"), 0o755))
	}

	require.NoError(t, svc.Delete(project.ID))

	_, err := svc.Get(project.ID)
	assert.Equal(t, ErrProjectNotFound, err)
	assert.NoFileExists(t, src)
	for _, dir := range projectDirs {
		assert.NoDirExists(t, dir)
	}

	jobs, err := repository.NewTrainingJobRepository(db).ListByProject(project.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	assert.Equal(t, ErrProjectNotFound, svc.Delete(project.ID))
}
