package main

// Backend blank imports. Each import registers a driver with the backend port.

import (
	_ "github.com/Strob0t/TenantForge/internal/adapter/compose"
	_ "github.com/Strob0t/TenantForge/internal/adapter/kubernetes"
)
