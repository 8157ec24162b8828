package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCharacter struct {
	Name      string `json:"name" validate:"required"`
	Level     int    `json:"level" validate:"required,gte=1,lte=20"`
	HitPoints int    `json:"hit_points" validate:"required,min=1"`
	Alignment string `json:"alignment,omitempty" validate:"omitempty,max=32"`
	Untagged  string `validate:"omitempty,oneof=a b"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := testCharacter{Name: "Gimli", Level: 5, HitPoints: 44}
		assert.NoError(t, ValidateStruct(&s))
	})

	t.Run("fields are reported by json name", func(t *testing.T) {
		s := testCharacter{Level: 25}

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "name is required", fields["name"])
		assert.Equal(t, "level must be less than or equal to 20", fields["level"])
		assert.Equal(t, "hit_points is required", fields["hit_points"])
		assert.NotContains(t, fields, "HitPoints")
	})

	t.Run("untagged field falls back to Go name", func(t *testing.T) {
		s := testCharacter{Name: "Gimli", Level: 5, HitPoints: 44, Untagged: "c"}

		fields := GetValidationFields(ValidateStruct(&s))
		assert.Equal(t, "Untagged must be one of: a b", fields["Untagged"])
	})
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "Validation failed", (&ValidationError{Message: "Validation failed"}).Error())

	err := &ValidationError{Message: "Validation failed", Fields: map[string]string{"name": "name is required"}}
	assert.Equal(t, "Validation failed: name is required", err.Error())
}

func TestGetValidationFields(t *testing.T) {
	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
		assert.Nil(t, FieldDetails(assert.AnError))
		assert.False(t, IsValidationError(assert.AnError))
	})

	t.Run("details mirror fields", func(t *testing.T) {
		err := &ValidationError{Message: "x", Fields: map[string]string{"level": "level is required"}}
		assert.Equal(t, map[string]interface{}{"level": "level is required"}, FieldDetails(err))
	})
}
