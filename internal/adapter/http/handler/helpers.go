package handler

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// currentUser returns the authenticated user or writes a 401.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, false
	}
	return userID, true
}

// bindJSON decodes and sanitizes the body into req, writing a 400 on failure.
// An empty body is accepted when allowEmpty is set.
func bindJSON(c *gin.Context, req any, allowEmpty bool) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		switch {
		case allowEmpty && errors.Is(err, io.EOF):
		case middleware.IsBodyTooLarge(err):
			response.Error(c, apperror.Validation("Request body too large"))
			return false
		default:
			response.Error(c, apperror.Validation(err.Error()))
			return false
		}
	}
	dto.SanitizeStruct(req)
	return true
}

func currencyOf(raw string) domain.Currency {
	return domain.Currency(strings.ToUpper(strings.TrimSpace(raw)))
}

// pageParams reads page and page_size, clamping them to sane bounds.
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
