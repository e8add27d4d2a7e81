package ioconv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/weaver/pkg/model"
)

func TestMergeIOPrefersDeployedMetadata(t *testing.T) {
	derived := []model.ProcessIO{
		complexIO("data", "text/plain", 1, model.Unbounded),
		literalIO("level", model.DataTypeInteger, 1, 1),
		literalIO("extra", model.DataTypeString, 0, 1),
	}
	deployedData := complexIO("data", "application/x-netcdf", 1, 10)
	deployedData.Title = "NetCDF files"
	deployedLevel := literalIO("level", model.DataTypeInteger, 1, 1, 1, 2, 3)
	deployedLevel.Abstract = "Pressure level"
	deployed := []model.ProcessIO{deployedData, deployedLevel, literalIO("unknown", model.DataTypeString, 1, 1)}

	merged, err := MergeIO(deployed, derived)
	require.NoError(t, err)
	require.Len(t, merged, 3, "the package decides which I/O exist")

	assert.Equal(t, "NetCDF files", merged[0].Title)
	assert.Equal(t, []string{"application/x-netcdf"}, merged[0].Complex.MediaTypes())
	assert.Equal(t, 10, merged[0].MaxOccurs)

	assert.Equal(t, "Pressure level", merged[1].Abstract)
	assert.Equal(t, []any{1, 2, 3}, merged[1].Literal.AllowedValues)
	assert.False(t, merged[1].Literal.AnyValue)

	assert.Equal(t, derived[2], merged[2])
	assert.Nil(t, derived[1].Literal.AllowedValues, "derived input must not be modified")
}

func TestMergeIOBBoxOverFile(t *testing.T) {
	deployed := []model.ProcessIO{{
		ID: "aoi", Kind: model.IOBBox, MinOccurs: 1, MaxOccurs: 1,
		BBox: &model.BBoxData{CRSs: []string{DefaultCRS}, DefaultCRS: DefaultCRS},
	}}
	merged, err := MergeIO(deployed, []model.ProcessIO{complexIO("aoi", "application/json", 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, model.IOBBox, merged[0].Kind)
	assert.Nil(t, merged[0].Complex)
	require.NotNil(t, merged[0].BBox)
}

func TestMergeIOCategoryMismatch(t *testing.T) {
	tests := []struct {
		name     string
		deployed model.ProcessIO
		derived  model.ProcessIO
	}{
		{"literal over file", literalIO("x", model.DataTypeString, 1, 1), complexIO("x", "text/plain", 1, 1)},
		{"file over literal", complexIO("x", "text/plain", 1, 1), literalIO("x", model.DataTypeString, 1, 1)},
		{"bbox over literal", model.ProcessIO{ID: "x", Kind: model.IOBBox}, literalIO("x", model.DataTypeString, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeIO([]model.ProcessIO{tt.deployed}, []model.ProcessIO{tt.derived})
			var pte *model.PackageTypeError
			require.Error(t, err)
			assert.True(t, errors.As(err, &pte))
			assert.Equal(t, "x", pte.IO)
		})
	}
}
