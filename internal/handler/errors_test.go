package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/rnn"
)

func TestStatusFor(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("outer: %w", err) }

	assert.Equal(t, http.StatusBadRequest, statusFor(wrap(generator.ErrInvalidRequest)))
	assert.Equal(t, http.StatusBadRequest, statusFor(wrap(model_store.ErrInvalidMessage)))
	assert.Equal(t, http.StatusNotFound, statusFor(wrap(generator.ErrNoData)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(wrap(rnn.ErrTraining)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(wrap(generator.ErrTrainingTimeout)))
	assert.Equal(t, 499, statusFor(wrap(context.Canceled)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(wrap(rnn.ErrDisposed)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("db down")))
}
