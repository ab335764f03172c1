package storage

import "lipsync/internal/ports"

// Provider holds uploaded inputs and archived result videos for both the API and the worker.
type Provider = ports.StorageProvider
