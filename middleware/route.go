package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// Routes 把鉴权中间件和路由注册绑在一起
type Routes struct {
	R    gin.IRoutes
	Auth gin.HandlerFunc
}

func (rt Routes) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && rt.Auth != nil {
		return []gin.HandlerFunc{rt.Auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

// 封装 POST
func (rt Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.POST(path, rt.chain(handler, opt)...)
}

// 封装 GET
func (rt Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.GET(path, rt.chain(handler, opt)...)
}

// 封装 DELETE
func (rt Routes) DELETE(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.R.DELETE(path, rt.chain(handler, opt)...)
}
