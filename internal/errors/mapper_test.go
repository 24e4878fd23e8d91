package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/utils/pagination"
)

func TestMap(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), codes.NotFound},
		{"job not found", queue.ErrJobNotFound, codes.NotFound},
		{"bad token", pagination.ErrInvalidToken, codes.InvalidArgument},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"other", errors.New("redis down"), codes.Internal},
		{"already a status", InvalidArgument("bad"), codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, status.Code(Map(tc.err)))
		})
	}
	assert.NoError(t, Map(nil))
}

func TestHTTPStatus(t *testing.T) {
	code, msg := HTTPStatus(InvalidArgument("userId must be a valid uint64"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "userId must be a valid uint64", msg)

	code, _ = HTTPStatus(gorm.ErrRecordNotFound)
	assert.Equal(t, http.StatusNotFound, code)

	code, msg = HTTPStatus(errors.New("connection refused"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "connection refused", msg)

	code, _ = HTTPStatus(AlreadyExists("dup"))
	assert.Equal(t, http.StatusConflict, code)
}
