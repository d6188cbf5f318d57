package domain

import "errors"

var (
	ErrInvalidCertificateWindow   = errors.New("invalid_certificate_window")
	ErrAlreadySuperseded          = errors.New("already_superseded")
	ErrDuplicateCertificateNumber = errors.New("duplicate_certificate_number")
	ErrInvalidMandatorySet        = errors.New("invalid_mandatory_set")
	ErrEmptyPopulation            = errors.New("empty_population")

	ErrRecordNotFound           = errors.New("training_record_not_found")
	ErrEmployeeNotFound         = errors.New("employee_not_found")
	ErrTrainingTypeNotFound     = errors.New("training_type_not_found")
	ErrInvalidRecord            = errors.New("invalid_training_record")
	ErrInvalidCertificateNumber = errors.New("invalid_certificate_number")
	ErrRecordReferenced         = errors.New("training_record_referenced")
	ErrChainIntegrity           = errors.New("renewal_chain_integrity")
	ErrRenewalConflict          = errors.New("renewal_conflict")
	ErrRenewalInProgress        = errors.New("renewal_in_progress")
)
