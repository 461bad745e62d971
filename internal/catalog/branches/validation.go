package branches

import (
	"fmt"
	"strings"

	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

func (s *Service) validate(b Branch) error {
	if strings.TrimSpace(b.Code) == "" {
		return fmt.Errorf("%w: branch code is required", httpx.ErrValidation)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: branch name is required", httpx.ErrValidation)
	}
	return nil
}
