package utils

import (
	"github.com/google/uuid"
)

func GetUUID() string {
	u1, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return u1.String()
}
