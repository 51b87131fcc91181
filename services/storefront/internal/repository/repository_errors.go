package repository

import "errors"

var ErrPurchaseNotFound = errors.New("purchase not found")
var ErrPurchaseExists = errors.New("purchase already recorded")
