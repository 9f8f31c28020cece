package middleware

import (
  "fmt"
  "net/http"
  "os"
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  "github.com/adpilot/adpilot-backend/internal/logger"
  "github.com/adpilot/adpilot-backend/internal/requestdata"
)

type AuthMiddleware struct {
  log    *logger.Logger
  secret []byte
}

func NewAuthMiddleware(log *logger.Logger) (*AuthMiddleware, error) {
  secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
  if secret == "" {
    return nil, fmt.Errorf("missing JWT_SECRET")
  }
  return &AuthMiddleware{
    log:    log.With("Middleware", "AuthMiddleware"),
    secret: []byte(secret),
  }, nil
}

// RequireAuth validates the bearer token and stashes the caller's identity in
// the request context for the services below.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
  return func(c *gin.Context) {
    tokenString := extractToken(c)
    if tokenString == "" {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
      return
    }
    rd, err := am.parse(tokenString)
    if err != nil {
      am.log.Debug("Token rejected", "error", err)
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
      return
    }
    if rd.UserID == uuid.Nil {
      c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
      return
    }
    ctx := requestdata.WithRequestData(c.Request.Context(), rd)
    c.Request = c.Request.WithContext(ctx)
    c.Next()
  }
}

func (am *AuthMiddleware) parse(tokenString string) (*requestdata.RequestData, error) {
  token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
    if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
      return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
    }
    return am.secret, nil
  })
  if err != nil || !token.Valid {
    return nil, fmt.Errorf("invalid token: %w", err)
  }
  claims, ok := token.Claims.(jwt.MapClaims)
  if !ok {
    return nil, fmt.Errorf("invalid claims")
  }
  sub, _ := claims["sub"].(string)
  userID, err := uuid.Parse(sub)
  if err != nil {
    return nil, fmt.Errorf("invalid subject: %w", err)
  }
  tier, _ := claims["tier"].(string)
  return &requestdata.RequestData{
    TokenString: tokenString,
    UserID:      userID,
    Tier:        tier,
  }, nil
}

func extractToken(c *gin.Context) string {
  authHeader := c.GetHeader("Authorization")
  if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
    return authHeader[7:]
  }
  if qToken := c.Query("token"); qToken != "" {
    return qToken
  }
  return ""
}
